// Package client is the facade the host application talks to. It wires the
// dialog, message, and avatar caches behind a single surface and keeps the
// per-session recents list.
package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatview/internal/avatar"
	"chatview/internal/bus"
	"chatview/internal/dialog"
	"chatview/internal/msgcache"
	"chatview/internal/outbox"
	"chatview/internal/router"
	"chatview/internal/status"
	"chatview/internal/store"
	"chatview/internal/transport"
)

const subscribeBufSize = 64

// Client exposes the conversation engine to a host frontend.
type Client struct {
	dialogs  *dialog.Cache
	messages *msgcache.Cache
	avatars  *avatar.Cache
	outbox   *outbox.Tracker
	router   *router.Router
	bus      *bus.Bus
	machine  *status.Machine
	files    *store.Files
	logger   *zap.Logger

	recentsMu sync.Mutex
	recents   []store.RecentEntry
}

// Params collects the engine components a Client fronts.
type Params struct {
	Dialogs  *dialog.Cache
	Messages *msgcache.Cache
	Avatars  *avatar.Cache
	Outbox   *outbox.Tracker
	Router   *router.Router
	Bus      *bus.Bus
	Machine  *status.Machine
	Files    *store.Files
	Logger   *zap.Logger
}

// New builds a Client over already-constructed engine components.
func New(p Params) *Client {
	c := &Client{
		dialogs:  p.Dialogs,
		messages: p.Messages,
		avatars:  p.Avatars,
		outbox:   p.Outbox,
		router:   p.Router,
		bus:      p.Bus,
		machine:  p.Machine,
		files:    p.Files,
		logger:   p.Logger,
	}
	c.recents = p.Files.LoadRecents()
	return c
}

// Dialogs returns the conversation list with pinned flags recomputed.
func (c *Client) Dialogs(ctx context.Context, limit int) ([]store.Dialog, error) {
	return c.dialogs.Get(ctx, limit)
}

// GroupedDialogs returns the conversation list folded by forum chat.
func (c *Client) GroupedDialogs(ctx context.Context, limit int) ([]dialog.Group, error) {
	ds, err := c.dialogs.Get(ctx, limit)
	if err != nil {
		return nil, err
	}
	return dialog.GroupDialogs(ds), nil
}

// SearchDialogsFromCache filters the cached dialog list by substring.
func (c *Client) SearchDialogsFromCache(query string) []store.Dialog {
	return c.dialogs.SearchFromCache(query)
}

// SearchDialogs queries the service for dialogs matching query.
func (c *Client) SearchDialogs(ctx context.Context, query string) ([]store.Dialog, error) {
	return c.dialogs.Search(ctx, query)
}

// RefreshDialogs drops the dialog snapshot's freshness so the next read
// fetches from the service.
func (c *Client) RefreshDialogs() {
	c.dialogs.Invalidate()
}

// Pin marks a conversation pinned.
func (c *Client) Pin(convID string) { c.dialogs.Pin(convID) }

// Unpin removes a conversation's pin.
func (c *Client) Unpin(convID string) { c.dialogs.Unpin(convID) }

// Messages returns up to limit messages of a conversation, oldest first.
// A beforeID above zero pages into history.
func (c *Client) Messages(ctx context.Context, convID string, limit int, beforeID int64) ([]store.Message, error) {
	return c.messages.Get(ctx, convID, limit, beforeID)
}

// Send queues an outgoing message and returns its temporary id. The
// message shows up immediately on the conversation's event stream.
func (c *Client) Send(convID, text string, replyTo int64) int64 {
	return c.outbox.Send(convID, text, replyTo)
}

// RetrySend requeues a failed send under its original temporary id.
func (c *Client) RetrySend(tempID int64) error {
	return c.outbox.Retry(tempID)
}

// PendingSend reports the tracked state of an optimistic send.
func (c *Client) PendingSend(tempID int64) (outbox.Pending, bool) {
	return c.outbox.Pending(tempID)
}

// Subscribe streams live events for one conversation id. The returned
// function cancels the subscription.
func (c *Client) Subscribe(convID string) (<-chan transport.Event, func()) {
	return c.router.Subscribe(convID, subscribeBufSize)
}

// OnDialogUpdate streams dialog list changes. Each event's Data carries
// the full refreshed []store.Dialog.
func (c *Client) OnDialogUpdate() (<-chan bus.Event, func()) {
	return c.bus.Subscribe(bus.KindDialogsUpdated, subscribeBufSize)
}

// OnStatusChange streams connectivity transitions.
func (c *Client) OnStatusChange() (<-chan bus.Event, func()) {
	return c.bus.Subscribe(bus.KindConnStatus, subscribeBufSize)
}

// Status returns the engine's current connectivity state.
func (c *Client) Status() status.State {
	return c.machine.Current()
}

// Avatar returns the cached profile photo for a user without touching
// the network.
func (c *Client) Avatar(userID int64) ([]byte, avatar.State) {
	return c.avatars.Get(userID)
}

// PrefetchAvatars resolves photos for the given users in the background.
func (c *Client) PrefetchAvatars(ctx context.Context, userIDs []int64) error {
	return c.avatars.FetchMany(ctx, userIDs)
}

// RecordOpened moves a conversation to the front of the recents list,
// trimming it to the persisted cap.
func (c *Client) RecordOpened(convID string) {
	c.recentsMu.Lock()
	defer c.recentsMu.Unlock()

	entries := []store.RecentEntry{{ID: convID, Timestamp: time.Now().UnixMilli()}}
	for _, e := range c.recents {
		if e.ID != convID {
			entries = append(entries, e)
		}
	}
	if len(entries) > store.MaxRecents {
		entries = entries[:store.MaxRecents]
	}
	c.recents = entries
	if err := c.files.SaveRecents(entries); err != nil {
		c.logger.Warn("persist recents", zap.Error(err))
	}
}

// RecentlyOpened returns the recents list, most recent first.
func (c *Client) RecentlyOpened() []store.RecentEntry {
	c.recentsMu.Lock()
	defer c.recentsMu.Unlock()
	out := make([]store.RecentEntry, len(c.recents))
	copy(out, c.recents)
	return out
}
