package transport

import "chatview/internal/store"

// EventKind identifies a push event type.
type EventKind string

const (
	KindNewMessage     EventKind = "newMessage"
	KindEditedMessage  EventKind = "editedMessage"
	KindDeletedMessage EventKind = "deletedMessage"
	KindTyping         EventKind = "typing"
	KindReaction       EventKind = "reaction"
	KindReadHistory    EventKind = "readHistory"
	KindReconnected    EventKind = "reconnected"

	// KindMessages is produced locally when a background refresh replaces
	// a conversation's cached window. The transport never emits it.
	KindMessages EventKind = "messages"
)

// Event is one push event from the transport. ChatID/TopicID identify the
// physical origin; deleted-message events may lack both when the service
// does not report the owning chat.
type Event struct {
	Kind    EventKind
	ChatID  string
	TopicID int64

	// Message is set for newMessage and editedMessage.
	Message *store.Message

	// Messages is set for the locally produced batch kind.
	Messages []store.Message

	// MessageIDs is set for deletedMessage.
	MessageIDs []int64

	// UserID is set for typing and reaction.
	UserID int64

	// MessageID and Reactions are set for reaction updates.
	MessageID int64
	Reactions []store.Reaction

	// MaxReadID is set for readHistory.
	MaxReadID int64
}
