package autorebase

import "errors"

var (
	// ErrMergeableStateTimeout is returned when GitHub did not compute the
	// mergeable state of a pull request in time.
	ErrMergeableStateTimeout = errors.New("timeout waiting for mergeable state")
	// ErrRebaseFailed is wrapped by the Err field of rebase actions that
	// failed.
	ErrRebaseFailed = errors.New("rebase failed")
)
