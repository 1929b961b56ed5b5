package kernel

// Error describes a kernel error. Kernel errors are normally defined as global
// variables that are pointers to the Error structure so callers can compare
// them by identity. Errors raised by hardware access may additionally carry
// the underlying cause in Err.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string

	// The underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error (if any).
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns a copy of e that records cause as its underlying error. The
// copy unwraps to cause and still matches e with errors.Is.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Module: e.Module, Message: e.Message, Err: cause}
}

// Is reports whether target is a kernel error with the same module and
// message as e. It allows errors produced by Wrap to match their template
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Module == e.Module && t.Message == e.Message
}
