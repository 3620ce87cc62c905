// Package gapfill recovers messages missed while the transport was
// disconnected. On a reconnect signal it re-fetches the live tail of every
// conversation someone is watching and replays the new messages through
// the normal delivery path.
package gapfill

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chatview/internal/bus"
	"chatview/internal/msgcache"
	"chatview/internal/router"
	"chatview/internal/transport"
)

const (
	// DefaultFetchLimit bounds one gap-fill fetch.
	DefaultFetchLimit = 50

	// fetchTimeout bounds one gap-fill network call.
	fetchTimeout = 30 * time.Second

	// fetchesPerSecond paces gap-fill fetches so a reconnect with many
	// open conversations does not stampede the transport.
	fetchesPerSecond = 5
)

// Filler fills per-conversation message gaps after a reconnect.
type Filler struct {
	mu       sync.Mutex
	inflight map[string]bool

	cache      *msgcache.Cache
	router     *router.Router
	tp         transport.Transport
	bus        *bus.Bus
	logger     *zap.Logger
	limiter    *rate.Limiter
	fetchLimit int
	cancel     context.CancelFunc
}

// New creates a gap filler.
func New(cache *msgcache.Cache, rt *router.Router, tp transport.Transport, b *bus.Bus, logger *zap.Logger, fetchLimit int) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	return &Filler{
		inflight:   make(map[string]bool),
		cache:      cache,
		router:     rt,
		tp:         tp,
		bus:        b,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(fetchesPerSecond), fetchesPerSecond),
		fetchLimit: fetchLimit,
	}
}

// Start subscribes to reconnect signals on the bus.
func (f *Filler) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	ch, unsub := f.bus.Subscribe(bus.KindConnReconnect, 16)

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				f.fillAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the reconnect listener.
func (f *Filler) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

// fillAll starts one fill per subscribed conversation with cached history.
// A conversation already being filled is skipped; the next reconnect
// signal picks it up again. With nothing to fill, the completion signal
// still goes out so the status machine settles back to ready.
func (f *Filler) fillAll(ctx context.Context) {
	started := 0
	for _, convID := range f.router.SubscribedIDs() {
		lastKnown := f.cache.LastKnownID(convID)
		if lastKnown == 0 {
			continue
		}

		f.mu.Lock()
		if f.inflight[convID] {
			f.mu.Unlock()
			continue
		}
		f.inflight[convID] = true
		f.mu.Unlock()

		started++
		go f.fill(ctx, convID, lastKnown)
	}

	if started == 0 {
		f.bus.Publish(bus.KindGapFilled, map[string]any{"messages": 0})
	}
}

// fill fetches the conversation's tail and replays everything newer than
// the last known id as live events.
func (f *Filler) fill(ctx context.Context, convID string, lastKnown int64) {
	defer func() {
		f.mu.Lock()
		delete(f.inflight, convID)
		f.mu.Unlock()
	}()

	if err := f.limiter.Wait(ctx); err != nil {
		return
	}

	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	msgs, err := f.tp.FetchMessages(fctx, convID, f.fetchLimit, 0)
	if err != nil {
		// Skipped; the next reconnect signal retries.
		f.logger.Warn("gap fill failed", zap.String("conversation", convID), zap.Error(err))
		return
	}

	// Anything at or below the last known id was already seen.
	newer := msgs[:0]
	for _, m := range msgs {
		if m.ID > lastKnown {
			newer = append(newer, m)
		}
	}

	added := f.cache.Merge(convID, newer)
	for _, m := range added {
		msg := m
		f.router.Deliver(convID, transport.Event{
			Kind:    transport.KindNewMessage,
			ChatID:  convID,
			Message: &msg,
		})
	}

	f.bus.Publish(bus.KindGapFilled, map[string]any{
		"conversation": convID,
		"messages":     len(added),
	})
	f.logger.Info("gap fill complete",
		zap.String("conversation", convID),
		zap.Int("new_messages", len(added)))
}
