package domain

import "errors"

var (
	ErrMemberNotFound       = errors.New("member not found")
	ErrIdentityNotFound     = errors.New("identity not found")
	ErrIdentityExists       = errors.New("identity already exists")
	ErrInvalidCredentials   = errors.New("invalid login credentials")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrEmptyPatch           = errors.New("nothing to update")
	ErrLockNotAcquired      = errors.New("member lock not acquired")
	ErrUnsupportedSortOrder = errors.New("unsupported sort order")
)

// ErrForbidden is returned by an Authorizer when the caller's role may not
// run the requested action.
var ErrForbidden = errors.New("operation not permitted for caller role")
