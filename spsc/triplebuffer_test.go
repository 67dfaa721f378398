package spsc_test

import (
	"sync"
	"testing"

	"github.com/nmxmxh/shine/spsc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripleBuffer_LatestValue(t *testing.T) {
	tx, rx := spsc.NewChannel[int]()

	_, ok := rx.Receive()
	assert.False(t, ok, "no value sent yet")

	tx.Send(1)
	tx.Send(2)
	tx.Send(3)

	v, ok := rx.Receive()
	require.True(t, ok)
	assert.Equal(t, 3, v, "only the latest send is observed")

	_, ok = rx.Receive()
	assert.False(t, ok, "a receive without an intervening send fails")
}

// TestTripleBuffer_ConcurrentMonotonic verifies property 8 from spec.md
// §8: after sends v1..vn and a successful receive r, r equals some vk, and
// the final received value is N-1.
func TestTripleBuffer_ConcurrentMonotonic(t *testing.T) {
	const n = 20000
	tx, rx := spsc.NewChannel[int]()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			tx.Send(i)
		}
	}()

	last := -1
	for last != n-1 {
		if v, ok := rx.Receive(); ok {
			require.Greater(t, v, last, "received values must be strictly increasing")
			last = v
		}
	}
	wg.Wait()
	assert.Equal(t, n-1, last)
}
