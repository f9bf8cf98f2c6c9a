package engine

// Error classes mirror the two failure taxonomies of the engine contract:
// load failures (missing file, unreadable weights, backend init) and
// generation failures (not loaded, backend error mid-stream). Callers match
// with the Is* predicates rather than concrete types.

type notFoundError struct{ handle string }

func (e notFoundError) Error() string { return "model file not found: " + e.handle }

// ErrModelFileNotFound reports a missing backing file for the given handle.
func ErrModelFileNotFound(handle string) error { return notFoundError{handle: handle} }

// IsNotFound reports whether err indicates a missing model file.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

type corruptError struct {
	handle string
	cause  error
}

func (e corruptError) Error() string {
	return "model file unreadable: " + e.handle + ": " + e.cause.Error()
}
func (e corruptError) Unwrap() error { return e.cause }

// ErrModelCorrupt wraps a backend initialization failure for an existing file.
func ErrModelCorrupt(handle string, cause error) error {
	return corruptError{handle: handle, cause: cause}
}

// IsCorrupt reports whether err indicates an unreadable/corrupt model file.
func IsCorrupt(err error) bool {
	_, ok := err.(corruptError)
	return ok
}

type resourceExhaustedError struct {
	handle string
	cause  error
}

func (e resourceExhaustedError) Error() string {
	return "engine out of resources loading " + e.handle + ": " + e.cause.Error()
}
func (e resourceExhaustedError) Unwrap() error { return e.cause }

// ErrResourceExhausted reports that the backend could not allocate the model.
func ErrResourceExhausted(handle string, cause error) error {
	return resourceExhaustedError{handle: handle, cause: cause}
}

// IsResourceExhausted reports whether err indicates an allocation failure.
func IsResourceExhausted(err error) bool {
	_, ok := err.(resourceExhaustedError)
	return ok
}

type notLoadedError struct{}

func (notLoadedError) Error() string { return "no model loaded" }

// ErrNotLoaded reports a Generate call on an unloaded engine.
func ErrNotLoaded() error { return notLoadedError{} }

// IsNotLoaded reports whether err indicates generation without a loaded model.
func IsNotLoaded(err error) bool {
	_, ok := err.(notLoadedError)
	return ok
}

type engineFailureError struct{ cause error }

func (e engineFailureError) Error() string { return "engine failure: " + e.cause.Error() }
func (e engineFailureError) Unwrap() error { return e.cause }

// ErrEngineFailure wraps a backend error raised mid-stream.
func ErrEngineFailure(cause error) error { return engineFailureError{cause: cause} }

// IsEngineFailure reports whether err indicates a backend failure during
// generation.
func IsEngineFailure(err error) bool {
	_, ok := err.(engineFailureError)
	return ok
}

// dependencyUnavailableError signals a build without the llama runtime so the
// HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	_, ok := err.(dependencyUnavailableError)
	return ok
}
