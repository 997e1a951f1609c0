package fs

import "errors"

var (
	// ErrSharingViolation is returned when an open (or a path operation that
	// opens internally) conflicts with the share mode of an existing handle.
	ErrSharingViolation = errors.New("sharing violation")

	// ErrDeletePending is returned when opening a file that has been marked
	// for deletion but still has open handles.
	ErrDeletePending = errors.New("delete pending")

	// ErrAccessDenied is returned when a handle is used for an operation it
	// wasn't opened for, or when a rename would replace an open file.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnsupported is returned when a backend cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrIdentityMismatch is returned when the file at a handle's resolved
	// path is no longer the file the handle refers to.
	ErrIdentityMismatch = errors.New("path no longer refers to the open file")

	// ErrUnknownMode is returned by [ParseAccess] and [ParseShare].
	ErrUnknownMode = errors.New("unknown mode")
)

// classifiedError tags a backend error with one of the sentinels above
// while keeping the original error (an errno, a PathError) reachable.
type classifiedError struct {
	kind error
	err  error
}

func classify(kind, err error) error {
	return &classifiedError{kind: kind, err: err}
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() []error {
	return []error{e.kind, e.err}
}
