// Package router fans transport push events out to per-conversation
// subscribers. A forum topic message is relevant to two logical
// conversations at once (the bare chat and the chat:topic view), so
// dispatch resolves both targets.
package router

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chatview/internal/addr"
	"chatview/internal/bus"
	"chatview/internal/transport"
)

// Router routes transport events to conversation subscribers.
type Router struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan transport.Event
	taps []func(convID string, evt transport.Event)
	next int

	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// New creates a router publishing connection signals on the given bus.
func New(b *bus.Bus, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		subs:   make(map[string]map[int]chan transport.Event),
		bus:    b,
		logger: logger,
	}
}

// Subscribe registers a subscriber for one conversation id and returns
// its event channel plus an unsubscribe function.
func (r *Router) Subscribe(convID string, bufSize int) (<-chan transport.Event, func()) {
	ch := make(chan transport.Event, bufSize)
	r.mu.Lock()
	id := r.next
	r.next++
	set := r.subs[convID]
	if set == nil {
		set = make(map[int]chan transport.Event)
		r.subs[convID] = set
	}
	set[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		if set, ok := r.subs[convID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.subs, convID)
			}
		}
		r.mu.Unlock()
	}
}

// HasSubscribers reports whether any of the given conversation ids has at
// least one subscriber.
func (r *Router) HasSubscribers(ids ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		if len(r.subs[id]) > 0 {
			return true
		}
	}
	return false
}

// SubscribedIDs returns every conversation id with at least one subscriber.
func (r *Router) SubscribedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	return ids
}

// Tap registers an observer invoked synchronously for every delivered
// event, before subscriber fanout. The message cache and the send tracker
// tap the delivery path so window state and pending reconciliation stay in
// step with what subscribers see.
func (r *Router) Tap(fn func(convID string, evt transport.Event)) {
	r.mu.Lock()
	r.taps = append(r.taps, fn)
	r.mu.Unlock()
}

// Deliver sends an event to one conversation's subscribers. Delivery is
// non-blocking; a subscriber with a full buffer misses the event.
func (r *Router) Deliver(convID string, evt transport.Event) {
	r.mu.RLock()
	chans := make([]chan transport.Event, 0, len(r.subs[convID]))
	for _, ch := range r.subs[convID] {
		chans = append(chans, ch)
	}
	taps := r.taps
	r.mu.RUnlock()

	for _, tap := range taps {
		tap(convID, evt)
	}
	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Dispatch resolves a transport event to its logical conversation ids and
// fans it out. Events no subscriber cares about are skipped entirely.
func (r *Router) Dispatch(evt transport.Event) {
	switch evt.Kind {
	case transport.KindReconnected:
		r.logger.Info("transport reconnected")
		r.bus.Publish(bus.KindConnReconnect, nil)
		return
	case transport.KindDeletedMessage:
		if evt.ChatID == "" {
			// The service did not report the owning chat. Over-deliver to
			// every subscribed conversation; subscribers no-op on unknown ids.
			for _, id := range r.SubscribedIDs() {
				r.Deliver(id, evt)
			}
			return
		}
	}

	targets := []string{evt.ChatID}
	if evt.TopicID != 0 {
		targets = append(targets, addr.Make(evt.ChatID, evt.TopicID))
	}
	if !r.HasSubscribers(targets...) {
		return
	}
	for _, id := range targets {
		r.Deliver(id, evt)
	}
}

// Run consumes the transport event stream until the context is cancelled
// or the stream closes.
func (r *Router) Run(ctx context.Context, events <-chan transport.Event) {
	ctx, r.cancel = context.WithCancel(ctx)
	go func() {
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				r.Dispatch(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the dispatch loop.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
