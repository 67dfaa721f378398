package telemetry

import "errors"

// Error taxonomy for recoverable conditions (spec §7). Misuse — borrow
// conflicts, double-free, generation mismatch during finalize — panics
// instead of returning one of these; those are programming errors, not
// runtime conditions.
var (
	ErrResourceTypeNotFound = errors.New("resource type not registered")
	ErrResourceNotFound     = errors.New("no resource instance for id")
	ErrResourceExpired      = errors.New("resource handle generation expired")
	ErrLoadCanceled         = errors.New("load canceled")
	ErrLoadFailed           = errors.New("load failed")
	ErrCyclicDependency     = errors.New("cyclic system dependency")
	ErrClaimConflict        = errors.New("unschedulable claim conflict")
)

// NewError creates a new error carrying only a message.
func NewError(msg string) error {
	return errors.New(msg)
}

// WrapError attaches additional context to err, preserving errors.Is/As.
func WrapError(err error, msg string) error {
	if err == nil {
		return errors.New(msg)
	}
	return &wrapped{msg: msg, err: err}
}

type wrapped struct {
	msg string
	err error
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
