package store

// Store error classes: missing rows, invariant conflicts, and I/O failures.
// The HTTP layer maps them with the Is* predicates; the generation session
// treats mid-stream I/O failures as best-effort and only fails a send on the
// final flush.

type notFoundError struct{ kind, id string }

func (e notFoundError) Error() string { return e.kind + " not found: " + e.id }

// ErrNotFound reports a missing row of the given kind ("conversation",
// "message", "model").
func ErrNotFound(kind, id string) error { return notFoundError{kind: kind, id: id} }

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

type conflictError struct{ msg string }

func (e conflictError) Error() string { return "conflict: " + e.msg }

// ErrConflict reports an operation that would violate a store invariant.
func ErrConflict(msg string) error { return conflictError{msg: msg} }

// IsConflict reports whether err indicates an invariant conflict.
func IsConflict(err error) bool {
	_, ok := err.(conflictError)
	return ok
}

type ioError struct {
	op    string
	cause error
}

func (e ioError) Error() string { return "store " + e.op + ": " + e.cause.Error() }
func (e ioError) Unwrap() error { return e.cause }

func ioFailure(op string, cause error) error { return ioError{op: op, cause: cause} }

// IsIOFailure reports whether err indicates a database I/O failure.
func IsIOFailure(err error) bool {
	_, ok := err.(ioError)
	return ok
}
