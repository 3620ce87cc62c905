package msgcache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatview/internal/bus"
	"chatview/internal/router"
	"chatview/internal/store"
	"chatview/internal/transport"
)

// mockTransport records fetch calls and serves canned message pages.
type mockTransport struct {
	mu      sync.Mutex
	fetches []fetchCall
	pages   map[string][]store.Message
	err     error
	events  chan transport.Event
}

type fetchCall struct {
	ConvID   string
	Limit    int
	BeforeID int64
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		pages:  make(map[string][]store.Message),
		events: make(chan transport.Event, 16),
	}
}

func (m *mockTransport) key(convID string, beforeID int64) string {
	return fmt.Sprintf("%s@%d", convID, beforeID)
}

func (m *mockTransport) setPage(convID string, beforeID int64, msgs []store.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[m.key(convID, beforeID)] = msgs
}

func (m *mockTransport) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetches)
}

func (m *mockTransport) FetchDialogs(context.Context, int) ([]transport.Dialog, error) {
	return nil, nil
}

func (m *mockTransport) FetchMessages(_ context.Context, convID string, limit int, beforeID int64) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = append(m.fetches, fetchCall{ConvID: convID, Limit: limit, BeforeID: beforeID})
	if m.err != nil {
		return nil, m.err
	}
	return m.pages[m.key(convID, beforeID)], nil
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

func testFiles(t *testing.T) *store.Files {
	t.Helper()
	f, err := store.NewFiles(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func msg(id int64, text string, ts int64) store.Message {
	return store.Message{ID: id, Text: text, Timestamp: ts}
}

func TestColdStartBlockingFetch(t *testing.T) {
	tp := newMockTransport()
	tp.setPage("1", 0, []store.Message{msg(1, "a", 100), msg(2, "b", 200)})
	c := New(testFiles(t), tp, router.New(bus.New(), nil), nil, 50, time.Minute)

	got, err := c.Get(context.Background(), "1", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if tp.fetchCount() != 1 {
		t.Errorf("fetch count = %d, want 1", tp.fetchCount())
	}
}

func TestWarmReadNoFetchWithinTTL(t *testing.T) {
	tp := newMockTransport()
	tp.setPage("1", 0, []store.Message{msg(1, "a", 100)})
	c := New(testFiles(t), tp, router.New(bus.New(), nil), nil, 50, time.Minute)

	if _, err := c.Get(context.Background(), "1", 50, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), "1", 50, 0); err != nil {
		t.Fatal(err)
	}
	if tp.fetchCount() != 1 {
		t.Errorf("fetch count = %d, want 1 (second read served from cache)", tp.fetchCount())
	}
}

func TestStaleReadTriggersBackgroundRefresh(t *testing.T) {
	tp := newMockTransport()
	tp.setPage("1", 0, []store.Message{msg(1, "a", 100)})
	b := bus.New()
	rt := router.New(b, nil)
	c := New(testFiles(t), tp, rt, nil, 50, 10*time.Millisecond)

	sub, unsub := rt.Subscribe("1", 10)
	defer unsub()

	if _, err := c.Get(context.Background(), "1", 50, 0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	tp.setPage("1", 0, []store.Message{msg(1, "a", 100), msg(2, "b", 200)})
	got, err := c.Get(context.Background(), "1", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	// The stale window is returned without waiting.
	if len(got) != 1 {
		t.Errorf("stale read returned %d messages, want 1", len(got))
	}

	// The refreshed result arrives as a batch event.
	select {
	case evt := <-sub:
		if evt.Kind != transport.KindMessages {
			t.Errorf("kind = %q, want %q", evt.Kind, transport.KindMessages)
		}
		if len(evt.Messages) != 2 {
			t.Errorf("refreshed batch has %d messages, want 2", len(evt.Messages))
		}
	case <-time.After(time.Second):
		t.Fatal("refresh result never delivered")
	}
}

func TestPaginationAlwaysFetches(t *testing.T) {
	tp := newMockTransport()
	tp.setPage("1", 0, []store.Message{msg(10, "j", 1000)})
	tp.setPage("1", 10, []store.Message{msg(8, "h", 800), msg(9, "i", 900)})
	c := New(testFiles(t), tp, router.New(bus.New(), nil), nil, 50, time.Minute)

	if _, err := c.Get(context.Background(), "1", 50, 0); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(context.Background(), "1", 50, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 8 || got[1].ID != 9 {
		t.Errorf("page = %+v, want ids 8, 9 ascending", got)
	}
	if tp.fetchCount() != 2 {
		t.Errorf("fetch count = %d, want 2", tp.fetchCount())
	}
}

func TestWindowNeverExceedsCapacity(t *testing.T) {
	tp := newMockTransport()
	c := New(testFiles(t), tp, router.New(bus.New(), nil), nil, 5, time.Minute)

	// Prime the window with one blocking fetch so the final Get is within
	// the TTL; otherwise it spawns a background refresh whose persist can
	// race the TempDir cleanup.
	if _, err := c.Get(context.Background(), "1", 50, 0); err != nil {
		t.Fatal(err)
	}

	for i := int64(1); i <= 20; i++ {
		c.Merge("1", []store.Message{msg(i, "m", i*100)})
	}

	got, err := c.Get(context.Background(), "1", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("window size = %d, want 5", len(got))
	}
	// Trimmed from the oldest end.
	if got[0].ID != 16 || got[4].ID != 20 {
		t.Errorf("window = %+v, want ids 16..20", got)
	}
}

func TestMergeDeduplicatesByID(t *testing.T) {
	tp := newMockTransport()
	c := New(testFiles(t), tp, router.New(bus.New(), nil), nil, 50, time.Minute)

	c.Merge("1", []store.Message{msg(99, "seen", 100), msg(100, "seen", 200)})
	added := c.Merge("1", []store.Message{msg(99, "seen", 100), msg(101, "new", 300), msg(102, "new", 400)})

	if len(added) != 2 {
		t.Fatalf("added %d messages, want 2", len(added))
	}
	if added[0].ID != 101 || added[1].ID != 102 {
		t.Errorf("added = %+v, want ids 101, 102", added)
	}
}

func TestRoutedEventsUpdateWindow(t *testing.T) {
	tp := newMockTransport()
	rt := router.New(bus.New(), nil)
	c := New(testFiles(t), tp, rt, nil, 50, time.Minute)

	_, unsub := rt.Subscribe("1", 10)
	defer unsub()

	// Prime the window with one blocking fetch so later Gets are within the
	// TTL; otherwise each Get spawns a background refresh whose persist can
	// race the TempDir cleanup.
	if _, err := c.Get(context.Background(), "1", 50, 0); err != nil {
		t.Fatal(err)
	}

	m := msg(1, "original", 100)
	rt.Dispatch(transport.Event{Kind: transport.KindNewMessage, ChatID: "1", Message: &m})

	edited := msg(1, "edited", 100)
	edited.Edited = true
	rt.Dispatch(transport.Event{Kind: transport.KindEditedMessage, ChatID: "1", Message: &edited})

	got, err := c.Get(context.Background(), "1", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Text != "edited" || !got[0].Edited {
		t.Errorf("window = %+v, want single edited message", got)
	}

	rt.Dispatch(transport.Event{Kind: transport.KindDeletedMessage, ChatID: "1", MessageIDs: []int64{1}})
	got, _ = c.Get(context.Background(), "1", 50, 0)
	if len(got) != 0 {
		t.Errorf("window after delete = %+v, want empty", got)
	}
}

func TestDiskRoundTripWarmStart(t *testing.T) {
	files := testFiles(t)
	tp := newMockTransport()
	c := New(files, tp, router.New(bus.New(), nil), nil, 50, time.Hour)
	c.Merge("1", []store.Message{msg(1, "persisted", 100)})

	// A new cache over the same directory serves from disk without a fetch.
	c2 := New(files, tp, router.New(bus.New(), nil), nil, 50, time.Hour)
	if got := c2.LastKnownID("1"); got != 1 {
		t.Errorf("last known id from disk = %d, want 1", got)
	}
}

func TestPendingMessagesNotPersisted(t *testing.T) {
	files := testFiles(t)
	tp := newMockTransport()
	rt := router.New(bus.New(), nil)
	c := New(files, tp, rt, nil, 50, time.Hour)

	_, unsub := rt.Subscribe("1", 10)
	defer unsub()

	pending := store.Message{ID: -1, Text: "sending", Timestamp: 100, Outgoing: true, Pending: store.PendingSending}
	rt.Dispatch(transport.Event{Kind: transport.KindNewMessage, ChatID: "1", Message: &pending})
	c.Merge("1", []store.Message{msg(1, "real", 50)})

	records, err := files.LoadMessages()
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range records {
		for _, m := range rec.Messages {
			if m.ID < 0 {
				t.Errorf("pending message %d persisted", m.ID)
			}
		}
	}
}
