// Package transport defines the contract the engine requires from the
// remote messaging transport. The implementation (protocol client, auth,
// connection management) lives in the host application.
package transport

import (
	"context"

	"chatview/internal/store"
)

// Topic is one forum topic inside a forum-enabled chat, as reported by
// the transport.
type Topic struct {
	ID              int64
	Name            string
	Emoji           string
	UnreadCount     int
	LastMessage     string
	LastMessageTime int64
}

// Dialog is a raw conversation as reported by the transport: one entry
// per physical chat, with forum topics nested. The engine expands forum
// chats into per-topic conversation summaries.
type Dialog struct {
	ChatID          string
	Name            string
	IsForum         bool
	UnreadCount     int
	LastMessage     string
	LastMessageTime int64
	Topics          []Topic
}

// SendAck acknowledges an accepted outgoing message. The service does not
// echo a client-supplied correlation id; confirmation arrives later as a
// push event carrying the assigned message id.
type SendAck struct {
	Accepted bool
}

// Transport is the remote service boundary. All calls carry a context;
// implementations are expected to apply their own request timeouts on top.
type Transport interface {
	// FetchDialogs returns up to limit raw dialogs, most recent first.
	FetchDialogs(ctx context.Context, limit int) ([]Dialog, error)

	// FetchMessages returns up to limit messages for a conversation,
	// oldest first. A beforeID of 0 fetches the live tail; a positive
	// beforeID pages backwards through history.
	FetchMessages(ctx context.Context, convID string, limit int, beforeID int64) ([]store.Message, error)

	// SendMessage submits a text message. replyTo of 0 means no reply.
	SendMessage(ctx context.Context, convID string, text string, replyTo int64) (SendAck, error)

	// SearchDialogs performs an exact, network-backed dialog search.
	SearchDialogs(ctx context.Context, query string) ([]Dialog, error)

	// FetchProfilePhoto returns a user's avatar bytes. A nil slice with a
	// nil error means the user has no photo.
	FetchProfilePhoto(ctx context.Context, userID int64) ([]byte, error)

	// Events returns the push event stream. The channel is closed when
	// the transport shuts down.
	Events() <-chan Event
}
