// Package outbox tracks locally-originated messages until the server
// confirms them. A send is visible immediately under a negative temporary
// id; the entry is reconciled away when the server echo arrives, or parked
// as failed and retryable when the network call fails.
package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chatview/internal/bus"
	"chatview/internal/msgcache"
	"chatview/internal/router"
	"chatview/internal/store"
	"chatview/internal/transport"
)

const (
	// DefaultSendTimeout bounds one network send attempt.
	DefaultSendTimeout = 30 * time.Second

	// reconcileWindow is the tolerance between a pending entry's creation
	// and a matching echo's timestamp. The service does not echo a client
	// correlation id, so matching is heuristic: same conversation, exact
	// text, timestamps within this window.
	reconcileWindow = 30 * time.Second
)

// Pending is one unconfirmed outgoing message.
type Pending struct {
	TempID    int64
	ConvID    string
	Text      string
	ReplyTo   int64
	CreatedAt time.Time
	State     store.PendingState
}

// Tracker owns the pending entries and the synthetic messages injected
// into the message cache.
type Tracker struct {
	mu      sync.Mutex
	pending map[int64]*Pending
	nextID  atomic.Int64

	cache   *msgcache.Cache
	router  *router.Router
	tp      transport.Transport
	bus     *bus.Bus
	logger  *zap.Logger
	timeout time.Duration
}

// New creates a tracker and taps the router so incoming echoes reconcile
// pending entries.
func New(cache *msgcache.Cache, rt *router.Router, tp transport.Transport, b *bus.Bus, logger *zap.Logger, timeout time.Duration) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	t := &Tracker{
		pending: make(map[int64]*Pending),
		cache:   cache,
		router:  rt,
		tp:      tp,
		bus:     b,
		logger:  logger,
		timeout: timeout,
	}
	rt.Tap(t.observe)
	return t
}

// Send registers a pending entry, shows it in the conversation
// immediately, and issues the network send asynchronously. Returns the
// temporary id (always negative).
func (t *Tracker) Send(convID, text string, replyTo int64) int64 {
	tempID := -t.nextID.Add(1)
	now := time.Now()

	p := &Pending{
		TempID:    tempID,
		ConvID:    convID,
		Text:      text,
		ReplyTo:   replyTo,
		CreatedAt: now,
		State:     store.PendingSending,
	}
	t.mu.Lock()
	t.pending[tempID] = p
	t.mu.Unlock()

	t.router.Deliver(convID, transport.Event{
		Kind:    transport.KindNewMessage,
		ChatID:  convID,
		Message: t.display(p),
	})

	go t.dispatch(p)
	return tempID
}

// Retry resubmits a failed entry with the same temporary id and payload.
func (t *Tracker) Retry(tempID int64) error {
	t.mu.Lock()
	p, ok := t.pending[tempID]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownSend
	}
	if p.State != store.PendingFailed {
		t.mu.Unlock()
		return ErrNotFailed
	}
	p.State = store.PendingSending
	t.mu.Unlock()

	t.cache.MarkSending(p.ConvID, tempID)
	t.router.Deliver(p.ConvID, transport.Event{
		Kind:    transport.KindEditedMessage,
		ChatID:  p.ConvID,
		Message: t.display(p),
	})
	t.bus.Publish(bus.KindSendRetried, tempID)

	go t.dispatch(p)
	return nil
}

// Pending returns a snapshot of an entry, if it is still tracked.
func (t *Tracker) Pending(tempID int64) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[tempID]
	if !ok {
		return Pending{}, false
	}
	return *p, true
}

// dispatch performs the network send. Success keeps the entry in the
// sending state until the server echo reconciles it; failure parks it as
// failed and retryable.
func (t *Tracker) dispatch(p *Pending) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	_, err := t.tp.SendMessage(ctx, p.ConvID, p.Text, p.ReplyTo)
	if err == nil {
		return
	}

	t.logger.Warn("send failed",
		zap.String("conversation", p.ConvID),
		zap.Int64("temp_id", p.TempID),
		zap.Error(err))

	t.mu.Lock()
	// The echo may have reconciled the entry while the call was failing.
	if _, still := t.pending[p.TempID]; !still {
		t.mu.Unlock()
		return
	}
	p.State = store.PendingFailed
	t.mu.Unlock()

	t.cache.MarkFailed(p.ConvID, p.TempID)
	t.router.Deliver(p.ConvID, transport.Event{
		Kind:    transport.KindEditedMessage,
		ChatID:  p.ConvID,
		Message: t.display(p),
	})
	t.bus.Publish(bus.KindSendFailed, p.TempID)
}

// observe is the router tap: an incoming outgoing-flagged message that
// matches a pending entry's text within the tolerance window confirms the
// send. The pending copy is dropped so exactly one message remains.
func (t *Tracker) observe(convID string, evt transport.Event) {
	if evt.Kind != transport.KindNewMessage || evt.Message == nil {
		return
	}
	msg := evt.Message
	if !msg.Outgoing || msg.ID <= 0 {
		return
	}

	t.mu.Lock()
	var match *Pending
	for _, p := range t.pending {
		if p.ConvID != convID || p.Text != msg.Text {
			continue
		}
		delta := time.Unix(msg.Timestamp, 0).Sub(p.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > reconcileWindow {
			continue
		}
		if match == nil || p.CreatedAt.Before(match.CreatedAt) {
			match = p
		}
	}
	if match != nil {
		delete(t.pending, match.TempID)
	}
	t.mu.Unlock()

	if match == nil {
		return
	}

	// The real message is already flowing to subscribers; retire the temp
	// copy through the same delivery path.
	t.cache.Remove(convID, match.TempID)
	t.router.Deliver(convID, transport.Event{
		Kind:       transport.KindDeletedMessage,
		ChatID:     convID,
		MessageIDs: []int64{match.TempID},
	})
}

// display builds the synthetic message shown for a pending entry.
func (t *Tracker) display(p *Pending) *store.Message {
	msg := &store.Message{
		ID:        p.TempID,
		Text:      p.Text,
		Timestamp: p.CreatedAt.Unix(),
		Outgoing:  true,
		Pending:   p.State,
	}
	if p.ReplyTo != 0 {
		msg.ReplyTo = &store.ReplyRef{ID: p.ReplyTo}
	}
	return msg
}
