package pool

import "fmt"

// Kind classifies a PoolError the way spec.md's error-kind taxonomy does.
// Out-of-band callers (the get waiter callback, admin surface) switch on
// Kind rather than doing string matching on Error().
type Kind string

const (
	KindIORead             Kind = "io_read"
	KindIOWrite            Kind = "io_write"
	KindIOEOF              Kind = "io_eof"
	KindProtocolViolation  Kind = "protocol_violation"
	KindSpawnFailed        Kind = "spawn_failed"
	KindAtCapacity         Kind = "at_capacity"
	KindSuperGroupGone     Kind = "supergroup_gone"
	KindGroupGone          Kind = "group_gone"
	KindTimeout            Kind = "timeout"
	KindInvariantViolation Kind = "invariant_violation"
)

// Error is the tagged variant every get() callback error surfaces through.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, pool.ErrAtCapacity) style matching against a
// sentinel constructed with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinels for errors.Is comparisons where no extra context is needed.
var (
	ErrAtCapacity     = &Error{Kind: KindAtCapacity, Message: "at capacity"}
	ErrSuperGroupGone = &Error{Kind: KindSuperGroupGone, Message: "supergroup no longer exists"}
	ErrGroupGone      = &Error{Kind: KindGroupGone, Message: "group no longer exists"}
)
