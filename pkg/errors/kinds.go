package errors

import (
	stderrors "errors"
	"fmt"
)

// Is and As are re-exported so callers importing this package need not alias the standard one.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// Constructors for each kind in the taxonomy. The reference argument is
// anything printable; handlers pass a uri.Reference.

func Parse(input, reason string) *VFSError {
	return NewError(ErrCodeParse, fmt.Sprintf("cannot parse %q: %s", input, reason))
}

func UnknownScheme(scheme string) *VFSError {
	return NewError(ErrCodeUnknownScheme, fmt.Sprintf("no handler registered for scheme %q", scheme))
}

func IncompleteReference(ref fmt.Stringer, missing string) *VFSError {
	return NewError(ErrCodeIncompleteReference, "reference is missing "+missing).WithReference(ref)
}

func NotFound(ref fmt.Stringer) *VFSError {
	return NewError(ErrCodeNotFound, "no such file or folder").WithReference(ref)
}

func Exists(ref fmt.Stringer) *VFSError {
	return NewError(ErrCodeExists, "already exists").WithReference(ref)
}

func NotDirectory(ref fmt.Stringer) *VFSError {
	return NewError(ErrCodeNotDirectory, "not a folder").WithReference(ref)
}

func IsDirectory(ref fmt.Stringer) *VFSError {
	return NewError(ErrCodeIsDirectory, "is a folder").WithReference(ref)
}

func ReadOnly(ref fmt.Stringer, operation string) *VFSError {
	return NewError(ErrCodeReadOnly, "scheme is read-only").WithReference(ref).WithOperation(operation)
}

func AuthCancelled(host string) *VFSError {
	return NewError(ErrCodeAuthCancelled, "authentication cancelled for "+host)
}

func AuthFailed(host string) *VFSError {
	return NewError(ErrCodeAuthFailed, "credentials rejected by "+host)
}

// Network wraps a transport failure; the cause is kept untouched for errors.As.
func Network(ref fmt.Stringer, cause error) *VFSError {
	return NewError(ErrCodeNetwork, "transport failure").WithReference(ref).WithCause(cause)
}

// Backend carries a status and reason surfaced by a remote store.
func Backend(ref fmt.Stringer, status int, reason string) *VFSError {
	return NewError(ErrCodeBackend, "backend refused the request").WithReference(ref).WithStatus(status, reason)
}
