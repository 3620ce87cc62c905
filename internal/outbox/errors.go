package outbox

import "errors"

var (
	// ErrUnknownSend means the temporary id does not match a tracked entry.
	ErrUnknownSend = errors.New("outbox: unknown send")

	// ErrNotFailed means retry was called on an entry that is not failed.
	ErrNotFailed = errors.New("outbox: send is not in the failed state")
)
