package client

import (
	"context"
	"path/filepath"
	"testing"
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

// mockTransport serves canned dialogs and messages.
type mockTransport struct {
	dialogs  []transport.Dialog
	messages map[string][]store.Message
	events   chan transport.Event
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		messages: make(map[string][]store.Message),
		events:   make(chan transport.Event),
	}
}

func (m *mockTransport) FetchDialogs(context.Context, int) ([]transport.Dialog, error) {
	return m.dialogs, nil
}

func (m *mockTransport) FetchMessages(_ context.Context, convID string, _ int, _ int64) ([]store.Message, error) {
	return m.messages[convID], nil
}

func (m *mockTransport) SendMessage(context.Context, string, string, int64) (transport.SendAck, error) {
	return transport.SendAck{Accepted: true}, nil
}

func (m *mockTransport) SearchDialogs(context.Context, string) ([]transport.Dialog, error) {
	return nil, nil
}

func (m *mockTransport) FetchProfilePhoto(context.Context, int64) ([]byte, error) {
	return nil, nil
}

func (m *mockTransport) Events() <-chan transport.Event {
	return m.events
}

func newTestParams(t *testing.T, tp *mockTransport) Params {
	t.Helper()
	dir := t.TempDir()
	files, err := store.NewFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.OpenDB(filepath.Join(dir, "avatars.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	b := bus.New()
	rt := router.New(b, logger)
	t.Cleanup(rt.Stop)
	msgs := msgcache.New(files, tp, rt, logger, msgcache.DefaultCapacity, msgcache.DefaultTTL)

	return Params{
		Dialogs:  dialog.New(files, tp, b, logger, 30*time.Second, 100),
		Messages: msgs,
		Avatars:  avatar.New(db, tp, logger, 2),
		Outbox:   outbox.New(msgs, rt, tp, b, logger, outbox.DefaultSendTimeout),
		Router:   rt,
		Bus:      b,
		Machine:  status.NewMachine(b),
		Files:    files,
		Logger:   logger,
	}
}

func newTestClient(t *testing.T, tp *mockTransport) *Client {
	t.Helper()
	return New(newTestParams(t, tp))
}

func TestMessagesThroughFacade(t *testing.T) {
	tp := newMockTransport()
	tp.messages["123"] = []store.Message{
		{ID: 1, Text: "hi", Timestamp: 1000},
		{ID: 2, Text: "there", Timestamp: 2000},
	}
	c := newTestClient(t, tp)

	got, err := c.Messages(context.Background(), "123", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("messages = %+v, want ids [1 2]", got)
	}
}

func TestRecordOpenedMovesToFront(t *testing.T) {
	c := newTestClient(t, newMockTransport())

	c.RecordOpened("a")
	c.RecordOpened("b")
	c.RecordOpened("a")

	got := c.RecentlyOpened()
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("recents = %+v, want [a b]", got)
	}
}

func TestRecordOpenedCap(t *testing.T) {
	c := newTestClient(t, newMockTransport())

	for i := 0; i < store.MaxRecents+3; i++ {
		c.RecordOpened(string(rune('a' + i)))
	}
	if got := len(c.RecentlyOpened()); got != store.MaxRecents {
		t.Errorf("recents length = %d, want %d", got, store.MaxRecents)
	}
}

func TestRecentsSurviveRestart(t *testing.T) {
	params := newTestParams(t, newMockTransport())

	c1 := New(params)
	c1.RecordOpened("42")

	c2 := New(params)
	got := c2.RecentlyOpened()
	if len(got) != 1 || got[0].ID != "42" {
		t.Errorf("recents after restart = %+v, want [42]", got)
	}
}

func TestSendAndSubscribe(t *testing.T) {
	tp := newMockTransport()
	c := newTestClient(t, tp)

	ch, unsub := c.Subscribe("123")
	defer unsub()

	tempID := c.Send("123", "hello", 0)
	if tempID >= 0 {
		t.Errorf("temp id = %d, want negative", tempID)
	}

	select {
	case evt := <-ch:
		if evt.Kind != transport.KindNewMessage || evt.Message == nil || evt.Message.ID != tempID {
			t.Errorf("event = %+v, want optimistic new message %d", evt, tempID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for optimistic event")
	}
}

func TestStatusStartsBooting(t *testing.T) {
	c := newTestClient(t, newMockTransport())
	if c.Status() != status.Booting {
		t.Errorf("status = %s, want BOOTING", c.Status())
	}
}
