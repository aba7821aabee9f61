package installation

import "errors"

var (
	// ErrNotAuthenticated is returned when an operation runs without a
	// session token. The caller must log in first.
	ErrNotAuthenticated = errors.New("installation: not authenticated")

	// ErrMissingID is returned when an installation id is required but
	// empty.
	ErrMissingID = errors.New("installation: installation id required")

	// ErrNotFound is returned when the account has no installation with
	// the requested id.
	ErrNotFound = errors.New("installation: installation not found")

	// ErrRequestFailed wraps vendor-side rejections of a list or
	// services request.
	ErrRequestFailed = errors.New("installation: request failed")
)
