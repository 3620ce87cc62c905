// Package msgcache keeps a sliding window of recent messages per
// conversation, serving reads stale-while-revalidate and persisting each
// window as one line in the session's message cache file.
package msgcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chatview/internal/router"
	"chatview/internal/store"
	"chatview/internal/transport"
)

const (
	// DefaultCapacity caps each conversation's cached window.
	DefaultCapacity = 50

	// DefaultTTL is the live-tail staleness threshold.
	DefaultTTL = 30 * time.Second

	// refreshTimeout bounds a background refresh network call.
	refreshTimeout = 30 * time.Second
)

type window struct {
	msgs       []store.Message // sorted by (timestamp, id) ascending
	fetchedAt  time.Time
	refreshing atomic.Bool
}

// Cache is the per-conversation message cache.
type Cache struct {
	mu      sync.Mutex
	windows map[string]*window
	loaded  bool

	files    *store.Files
	tp       transport.Transport
	router   *router.Router
	logger   *zap.Logger
	capacity int
	ttl      time.Duration
}

// New creates a message cache and taps the router's delivery path so
// routed events keep the windows current.
func New(files *store.Files, tp transport.Transport, rt *router.Router, logger *zap.Logger, capacity int, ttl time.Duration) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		windows:  make(map[string]*window),
		files:    files,
		tp:       tp,
		router:   rt,
		logger:   logger,
		capacity: capacity,
		ttl:      ttl,
	}
	if rt != nil {
		rt.Tap(c.applyEvent)
	}
	return c
}

// Get returns messages for a conversation, oldest first.
//
// With beforeID == 0 it serves the cached window immediately, starting a
// single background refresh when the window is stale; the refreshed result
// reaches subscribers through the router, not this call. A cold start
// (nothing in memory or on disk) blocks on one network fetch.
//
// With beforeID > 0 it always fetches from the network and merges the page
// into the window.
func (c *Cache) Get(ctx context.Context, convID string, limit int, beforeID int64) ([]store.Message, error) {
	if limit <= 0 {
		limit = c.capacity
	}

	if beforeID > 0 {
		fetched, err := c.tp.FetchMessages(ctx, convID, limit, beforeID)
		if err != nil {
			return nil, fmt.Errorf("fetch history: %w", err)
		}
		c.Merge(convID, fetched)
		// Serve the fetched page directly: a full window trims old
		// history right back out of the merge.
		return page(fetched, limit, beforeID), nil
	}

	c.mu.Lock()
	c.ensureLoaded()
	w := c.windows[convID]
	if w != nil {
		out := tail(w.msgs, limit)
		stale := time.Since(w.fetchedAt) > c.ttl
		c.mu.Unlock()
		if stale && w.refreshing.CompareAndSwap(false, true) {
			go c.refresh(convID, w)
		}
		return out, nil
	}
	c.mu.Unlock()

	// Cold start: one blocking fetch, errors propagate to the caller.
	fetched, err := c.tp.FetchMessages(ctx, convID, c.capacity, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	c.mu.Lock()
	w = c.windows[convID]
	if w == nil {
		w = &window{}
		c.windows[convID] = w
	}
	w.msgs = c.merged(w.msgs, fetched)
	w.fetchedAt = time.Now()
	out := tail(w.msgs, limit)
	c.mu.Unlock()

	c.persist(convID)
	return out, nil
}

// LastKnownID returns the newest confirmed message id in a conversation's
// window, or 0 when nothing is cached. Pending temp ids never count.
func (c *Cache) LastKnownID(convID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()
	w := c.windows[convID]
	if w == nil {
		return 0
	}
	var last int64
	for _, m := range w.msgs {
		if m.ID > last {
			last = m.ID
		}
	}
	return last
}

// Merge folds fetched messages into a conversation's window, de-duplicated
// by id, and returns the messages that were actually new.
func (c *Cache) Merge(convID string, msgs []store.Message) []store.Message {
	c.mu.Lock()
	c.ensureLoaded()
	w := c.windows[convID]
	if w == nil {
		w = &window{}
		c.windows[convID] = w
	}

	seen := make(map[int64]bool, len(w.msgs))
	for _, m := range w.msgs {
		seen[m.ID] = true
	}
	var added []store.Message
	for _, m := range msgs {
		if !seen[m.ID] {
			added = append(added, m)
		}
	}
	w.msgs = c.merged(w.msgs, msgs)
	c.mu.Unlock()

	if len(added) > 0 {
		c.persist(convID)
	}
	return added
}

// MarkFailed flips a pending message to the failed state.
func (c *Cache) MarkFailed(convID string, tempID int64) {
	c.mu.Lock()
	if w := c.windows[convID]; w != nil {
		for i := range w.msgs {
			if w.msgs[i].ID == tempID {
				w.msgs[i].Pending = store.PendingFailed
				break
			}
		}
	}
	c.mu.Unlock()
}

// MarkSending flips a failed pending message back to sending (retry path).
func (c *Cache) MarkSending(convID string, tempID int64) {
	c.mu.Lock()
	if w := c.windows[convID]; w != nil {
		for i := range w.msgs {
			if w.msgs[i].ID == tempID {
				w.msgs[i].Pending = store.PendingSending
				break
			}
		}
	}
	c.mu.Unlock()
}

// Remove deletes messages by id from a conversation's window.
func (c *Cache) Remove(convID string, ids ...int64) {
	c.mu.Lock()
	w := c.windows[convID]
	if w == nil {
		c.mu.Unlock()
		return
	}
	drop := make(map[int64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := w.msgs[:0]
	for _, m := range w.msgs {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	w.msgs = kept
	c.mu.Unlock()

	c.persist(convID)
}

// applyEvent is the router tap: it mutates windows as events are delivered
// so the cache and the subscribers always agree.
func (c *Cache) applyEvent(convID string, evt transport.Event) {
	switch evt.Kind {
	case transport.KindNewMessage:
		if evt.Message != nil {
			c.insert(convID, *evt.Message)
		}
	case transport.KindEditedMessage:
		if evt.Message != nil {
			c.replace(convID, *evt.Message)
		}
	case transport.KindDeletedMessage:
		c.Remove(convID, evt.MessageIDs...)
	case transport.KindReaction:
		c.setReactions(convID, evt.MessageID, evt.Reactions)
	case transport.KindMessages:
		// Produced by our own refresh; the window is already current.
	}
}

func (c *Cache) insert(convID string, msg store.Message) {
	c.mu.Lock()
	c.ensureLoaded()
	w := c.windows[convID]
	if w == nil {
		w = &window{}
		c.windows[convID] = w
	}
	w.msgs = c.merged(w.msgs, []store.Message{msg})
	c.mu.Unlock()

	if msg.Pending == store.PendingNone {
		c.persist(convID)
	}
}

func (c *Cache) replace(convID string, msg store.Message) {
	c.mu.Lock()
	if w := c.windows[convID]; w != nil {
		for i := range w.msgs {
			if w.msgs[i].ID == msg.ID {
				w.msgs[i] = msg
				break
			}
		}
	}
	c.mu.Unlock()

	c.persist(convID)
}

func (c *Cache) setReactions(convID string, msgID int64, reactions []store.Reaction) {
	c.mu.Lock()
	if w := c.windows[convID]; w != nil {
		for i := range w.msgs {
			if w.msgs[i].ID == msgID {
				w.msgs[i].Reactions = reactions
				break
			}
		}
	}
	c.mu.Unlock()
}

// refresh re-fetches a conversation's live tail in the background. The
// result goes to subscribers as a batch event; failures are logged and the
// stale window keeps serving until the next TTL cycle.
func (c *Cache) refresh(convID string, w *window) {
	defer w.refreshing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	fetched, err := c.tp.FetchMessages(ctx, convID, c.capacity, 0)
	if err != nil {
		c.logger.Warn("background refresh failed",
			zap.String("conversation", convID), zap.Error(err))
		return
	}

	c.mu.Lock()
	w.msgs = c.merged(w.msgs, fetched)
	w.fetchedAt = time.Now()
	out := append([]store.Message(nil), w.msgs...)
	c.mu.Unlock()

	c.persist(convID)
	c.router.Deliver(convID, transport.Event{
		Kind:     transport.KindMessages,
		Messages: out,
	})
}

// merged folds incoming into msgs, de-duplicates by id (incoming wins),
// sorts by (timestamp, id) and trims the oldest beyond capacity.
func (c *Cache) merged(msgs, incoming []store.Message) []store.Message {
	byID := make(map[int64]store.Message, len(msgs)+len(incoming))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	for _, m := range incoming {
		byID[m.ID] = m
	}
	out := make([]store.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > c.capacity {
		out = out[len(out)-c.capacity:]
	}
	return out
}

// page sorts a fetched history page ascending and keeps up to limit
// messages older than beforeID.
func page(fetched []store.Message, limit int, beforeID int64) []store.Message {
	var older []store.Message
	for _, m := range fetched {
		if m.ID < beforeID && m.ID > 0 {
			older = append(older, m)
		}
	}
	sort.Slice(older, func(i, j int) bool {
		if older[i].Timestamp != older[j].Timestamp {
			return older[i].Timestamp < older[j].Timestamp
		}
		return older[i].ID < older[j].ID
	})
	return tail(older, limit)
}

// ensureLoaded lazily loads the on-disk cache once. Callers hold c.mu.
func (c *Cache) ensureLoaded() {
	if c.loaded {
		return
	}
	c.loaded = true
	records, err := c.files.LoadMessages()
	if err != nil {
		c.logger.Warn("message cache load failed, starting cold", zap.Error(err))
		return
	}
	for _, rec := range records {
		c.windows[rec.ChatID] = &window{
			msgs:      rec.Messages,
			fetchedAt: time.UnixMilli(rec.Timestamp),
		}
	}
}

// persist writes one conversation's window to disk, best-effort. Pending
// messages never hit the disk.
func (c *Cache) persist(convID string) {
	c.mu.Lock()
	w := c.windows[convID]
	if w == nil {
		c.mu.Unlock()
		return
	}
	confirmed := make([]store.Message, 0, len(w.msgs))
	for _, m := range w.msgs {
		if m.ID > 0 {
			confirmed = append(confirmed, m)
		}
	}
	ts := w.fetchedAt.UnixMilli()
	c.mu.Unlock()

	if err := c.files.SaveConversation(store.ConversationRecord{
		ChatID:    convID,
		Messages:  confirmed,
		Timestamp: ts,
	}); err != nil {
		c.logger.Warn("message cache persist failed",
			zap.String("conversation", convID), zap.Error(err))
	}
}

func tail(msgs []store.Message, limit int) []store.Message {
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]store.Message(nil), msgs...)
}
