package alarm

import "errors"

var (
	// ErrNotAuthenticated is returned when a panel operation runs
	// without a session token. The caller must log in first.
	ErrNotAuthenticated = errors.New("alarm: not authenticated")

	// ErrMissingID is returned when no installation id is given.
	ErrMissingID = errors.New("alarm: installation id required")

	// ErrCommandFailed wraps a vendor-side rejection of an arm or
	// disarm command, carrying the panel's message.
	ErrCommandFailed = errors.New("alarm: command failed")

	// ErrCommandTimeout is returned when the poll counter is exhausted
	// before the panel reports a terminal state.
	ErrCommandTimeout = errors.New("alarm: command timed out")

	// ErrStatusFailed wraps a rejected status check request.
	ErrStatusFailed = errors.New("alarm: status check failed")

	// ErrStatusTimeout is returned when the status poll gives up while
	// the panel keeps answering WAIT.
	ErrStatusTimeout = errors.New("alarm: status poll timed out")
)
