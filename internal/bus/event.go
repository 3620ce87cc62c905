package bus

import "time"

// Well-known event kinds published by the engine.
const (
	KindDialogsUpdated = "dialogs.updated"
	KindConnReconnect  = "conn.reconnected"
	KindConnStatus     = "conn.status_changed"
	KindSendFailed     = "send.failed"
	KindSendRetried    = "send.retried"
	KindGapFilled      = "sync.gap_filled"
)

// Event is a domain event published on the bus. ID is assigned at publish
// time so consumers can de-duplicate across re-subscribes.
type Event struct {
	ID   string
	Kind string
	At   time.Time
	Data any
}
