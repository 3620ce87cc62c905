package daemon

import (
	"context"
	"testing"
	"time"

	"go.uber.org/fx"

	"chatview/internal/client"
	"chatview/internal/status"
	"chatview/internal/store"
	"chatview/internal/transport"
)

// mockTransport serves canned data and an open event stream.
type mockTransport struct {
	dialogs  []transport.Dialog
	messages map[string][]store.Message
	events   chan transport.Event
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		messages: make(map[string][]store.Message),
		events:   make(chan transport.Event, 16),
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

func TestEngineLifecycle(t *testing.T) {
	tp := newMockTransport()
	tp.dialogs = []transport.Dialog{
		{ChatID: "123", Name: "alice", LastMessage: "hey", LastMessageTime: 1000},
	}
	tp.messages["123"] = []store.Message{
		{ID: 1, Text: "hey", Timestamp: 1000},
	}

	var c *client.Client
	app := fx.New(
		Module(Params{
			SessionName: "test",
			Transport:   tp,
			DataDir:     t.TempDir(),
		}),
		fx.Populate(&c),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		t.Fatal(err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			t.Error(err)
		}
	}()

	if c.Status() != status.Ready {
		t.Errorf("status = %s, want READY", c.Status())
	}

	dialogs, err := c.Dialogs(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(dialogs) != 1 || dialogs[0].Name != "alice" {
		t.Errorf("dialogs = %+v, want [alice]", dialogs)
	}

	// Live events from the transport reach conversation subscribers.
	ch, unsub := c.Subscribe("123")
	defer unsub()

	tp.events <- transport.Event{
		Kind:   transport.KindNewMessage,
		ChatID: "123",
		Message: &store.Message{
			ID: 2, Text: "you there?", Timestamp: 2000,
		},
	}

	select {
	case evt := <-ch:
		if evt.Kind != transport.KindNewMessage || evt.Message.ID != 2 {
			t.Errorf("event = %+v, want new message 2", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for routed event")
	}
}

func TestSecondEngineOnSameDirFails(t *testing.T) {
	dir := t.TempDir()
	tp := newMockTransport()

	app1 := fx.New(
		Module(Params{SessionName: "test", Transport: tp, DataDir: dir}),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app1.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = app1.Stop(context.Background()) }()

	app2 := fx.New(
		Module(Params{SessionName: "test", Transport: newMockTransport(), DataDir: dir}),
		fx.NopLogger,
	)
	if err := app2.Start(ctx); err == nil {
		_ = app2.Stop(context.Background())
		t.Fatal("second engine on the same session dir should fail to start")
	}
}
