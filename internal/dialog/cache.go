// Package dialog caches the conversation summary list
// stale-while-revalidate: reads always serve the current snapshot, a
// single background refresh keeps it fresh, and updates are broadcast on
// the bus for anyone rendering the list.
package dialog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chatview/internal/addr"
	"chatview/internal/bus"
	"chatview/internal/store"
	"chatview/internal/transport"
)

const (
	// DefaultTTL is the snapshot staleness threshold.
	DefaultTTL = 30 * time.Second

	// DefaultFetchLimit bounds a dialog list fetch.
	DefaultFetchLimit = 100

	// refreshTimeout bounds a background refresh network call.
	refreshTimeout = 30 * time.Second
)

// Cache is the stale-while-revalidate dialog list cache.
type Cache struct {
	mu        sync.Mutex
	snapshot  []store.Dialog
	fetchedAt time.Time
	pinned    map[string]bool
	loaded    bool

	refreshing atomic.Bool

	files      *store.Files
	tp         transport.Transport
	bus        *bus.Bus
	logger     *zap.Logger
	ttl        time.Duration
	fetchLimit int
}

// New creates a dialog cache backed by the given file store and transport.
func New(files *store.Files, tp transport.Transport, b *bus.Bus, logger *zap.Logger, ttl time.Duration, fetchLimit int) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	return &Cache{
		pinned:     make(map[string]bool),
		files:      files,
		tp:         tp,
		bus:        b,
		logger:     logger,
		ttl:        ttl,
		fetchLimit: fetchLimit,
	}
}

// Get returns up to limit conversation summaries. A warm snapshot is
// returned immediately (with pinned flags recomputed); a stale one
// additionally starts a single background refresh. Only a cold start
// blocks on the network, and only that error reaches the caller.
func (c *Cache) Get(ctx context.Context, limit int) ([]store.Dialog, error) {
	c.mu.Lock()
	c.ensureLoaded()
	if c.snapshot != nil {
		out := c.view(limit)
		stale := time.Since(c.fetchedAt) > c.ttl
		c.mu.Unlock()
		if stale && c.refreshing.CompareAndSwap(false, true) {
			go c.refresh()
		}
		return out, nil
	}
	c.mu.Unlock()

	dialogs, err := c.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch dialogs: %w", err)
	}
	c.install(dialogs)

	c.mu.Lock()
	out := c.view(limit)
	c.mu.Unlock()
	return out, nil
}

// Invalidate forces the next read to refresh regardless of age.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// SearchFromCache returns cached summaries whose name, group or topic
// matches the query, case-insensitive. Instant, cache-only; the exact
// network search is Search.
func (c *Cache) SearchFromCache(query string) []store.Dialog {
	q := strings.ToLower(query)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()

	var out []store.Dialog
	for _, d := range c.snapshot {
		if strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.GroupName), q) ||
			strings.Contains(strings.ToLower(d.TopicName), q) {
			d.Pinned = c.pinned[d.ID]
			out = append(out, d)
		}
	}
	return out
}

// Search performs the explicit network-backed dialog search.
func (c *Cache) Search(ctx context.Context, query string) ([]store.Dialog, error) {
	raw, err := c.tp.SearchDialogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search dialogs: %w", err)
	}
	out := expand(raw)
	c.mu.Lock()
	for i := range out {
		out[i].Pinned = c.pinned[out[i].ID]
	}
	c.mu.Unlock()
	return out, nil
}

// Pin marks a conversation pinned and persists the pinned set.
func (c *Cache) Pin(id string) {
	c.setPinned(id, true)
}

// Unpin clears a conversation's pinned flag and persists the pinned set.
func (c *Cache) Unpin(id string) {
	c.setPinned(id, false)
}

func (c *Cache) setPinned(id string, pinned bool) {
	c.mu.Lock()
	c.ensureLoaded()
	if pinned {
		c.pinned[id] = true
	} else {
		delete(c.pinned, id)
	}
	ids := make([]string, 0, len(c.pinned))
	for pid := range c.pinned {
		ids = append(ids, pid)
	}
	sort.Strings(ids)
	snapshot := c.view(0)
	c.mu.Unlock()

	if err := c.files.SavePinned(ids); err != nil {
		c.logger.Warn("pinned set persist failed", zap.Error(err))
	}
	c.bus.Publish(bus.KindDialogsUpdated, snapshot)
}

// fetch pulls the raw dialog list and expands forum chats into per-topic
// conversation summaries.
func (c *Cache) fetch(ctx context.Context) ([]store.Dialog, error) {
	raw, err := c.tp.FetchDialogs(ctx, c.fetchLimit)
	if err != nil {
		return nil, err
	}
	return expand(raw), nil
}

// install atomically swaps in a fresh snapshot, persists it, and
// broadcasts the full list.
func (c *Cache) install(dialogs []store.Dialog) {
	now := time.Now()
	c.mu.Lock()
	c.snapshot = dialogs
	c.fetchedAt = now
	out := c.view(0)
	c.mu.Unlock()

	if err := c.files.SaveDialogs(&store.DialogSnapshot{
		Timestamp: now.UnixMilli(),
		Dialogs:   dialogs,
	}); err != nil {
		c.logger.Warn("dialog snapshot persist failed", zap.Error(err))
	}
	c.bus.Publish(bus.KindDialogsUpdated, out)
}

func (c *Cache) refresh() {
	defer c.refreshing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	dialogs, err := c.fetch(ctx)
	if err != nil {
		// Stale data keeps serving; the next TTL cycle retries.
		c.logger.Warn("dialog refresh failed", zap.Error(err))
		return
	}
	c.install(dialogs)
}

// view copies the snapshot with pinned flags recomputed. Callers hold c.mu.
func (c *Cache) view(limit int) []store.Dialog {
	n := len(c.snapshot)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]store.Dialog, n)
	copy(out, c.snapshot[:n])
	for i := range out {
		out[i].Pinned = c.pinned[out[i].ID]
	}
	return out
}

// ensureLoaded lazily loads the persisted snapshot and pinned set once.
// Callers hold c.mu. A failed load means cold start.
func (c *Cache) ensureLoaded() {
	if c.loaded {
		return
	}
	c.loaded = true

	for _, id := range c.files.LoadPinned() {
		c.pinned[id] = true
	}

	snap, err := c.files.LoadDialogs()
	if err != nil {
		c.logger.Warn("dialog snapshot load failed, starting cold", zap.Error(err))
		return
	}
	if snap != nil {
		c.snapshot = snap.Dialogs
		c.fetchedAt = time.UnixMilli(snap.Timestamp)
	}
}

// expand turns raw transport dialogs into conversation summaries: plain
// chats map one-to-one, forum chats contribute one summary per topic.
func expand(raw []transport.Dialog) []store.Dialog {
	out := make([]store.Dialog, 0, len(raw))
	for _, d := range raw {
		if !d.IsForum {
			out = append(out, store.Dialog{
				ID:              d.ChatID,
				ChatID:          d.ChatID,
				Name:            d.Name,
				LastMessage:     d.LastMessage,
				LastMessageTime: d.LastMessageTime,
				UnreadCount:     d.UnreadCount,
			})
			continue
		}
		for _, t := range d.Topics {
			out = append(out, store.Dialog{
				ID:              addr.Make(d.ChatID, t.ID),
				ChatID:          d.ChatID,
				TopicID:         t.ID,
				Name:            t.Name,
				LastMessage:     t.LastMessage,
				LastMessageTime: t.LastMessageTime,
				UnreadCount:     t.UnreadCount,
				IsForum:         true,
				GroupName:       d.Name,
				TopicName:       t.Name,
				TopicEmoji:      t.Emoji,
			})
		}
	}
	return out
}
