package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clinivo/messaging/internal/status"
)

// testFeed is a minimal WebSocket feed server. It records inbound events
// and can push events back to the most recent connection.
type testFeed struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received []Event
	dials    int
}

func newTestFeed(t *testing.T) *testFeed {
	t.Helper()
	f := &testFeed{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.dials++
		f.mu.Unlock()
		for {
			var evt Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			f.mu.Lock()
			f.received = append(f.received, evt)
			f.mu.Unlock()
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *testFeed) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *testFeed) push(evt Event) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		f.t.Fatal("push with no connection")
	}
	if err := conn.WriteJSON(evt); err != nil {
		f.t.Fatalf("push: %v", err)
	}
}

func (f *testFeed) dropConnection() {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (f *testFeed) eventsOfType(typ string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, e := range f.received {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (f *testFeed) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testClient(t *testing.T, feedURL string, maxAttempts int) *Client {
	t.Helper()
	c := NewClient(Options{
		FeedURL:     feedURL,
		BaseDelay:   10 * time.Millisecond,
		MaxAttempts: maxAttempts,
	}, status.NewMachine(nil), nil)
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnectAndDispatch(t *testing.T) {
	feed := newTestFeed(t)
	c := testClient(t, feed.url(), 3)

	if err := c.Connect(context.Background(), "dr-a"); err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got != status.Connected {
		t.Fatalf("state = %s, want CONNECTED", got)
	}

	var mu sync.Mutex
	var got []Event
	unsub := c.Subscribe("conv-1", func(evt Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})
	defer unsub()

	waitFor(t, func() bool { return len(feed.eventsOfType(EventSubscribe)) == 1 },
		"subscribe event never reached the feed")

	feed.push(Event{Type: EventNewMessage, ConversationID: "conv-1", SenderID: "dr-b"})
	// Events for other conversations must not reach this handler.
	feed.push(Event{Type: EventNewMessage, ConversationID: "conv-2", SenderID: "dr-b"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "pushed event never dispatched")

	mu.Lock()
	defer mu.Unlock()
	if got[0].ConversationID != "conv-1" || got[0].Type != EventNewMessage {
		t.Errorf("dispatched = %+v", got[0])
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	feed := newTestFeed(t)
	c := testClient(t, feed.url(), 3)

	for range 3 {
		if err := c.Connect(context.Background(), "dr-a"); err != nil {
			t.Fatal(err)
		}
	}
	if feed.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", feed.dialCount())
	}
}

func TestFallbackAfterAttemptCap(t *testing.T) {
	// Nothing listens here; every dial fails fast.
	c := testClient(t, "ws://127.0.0.1:1/feed", 2)

	if err := c.Connect(context.Background(), "dr-a"); err != nil {
		t.Fatalf("exhausted attempts must not surface an error, got %v", err)
	}
	if got := c.State(); got != status.Fallback {
		t.Fatalf("state = %s, want FALLBACK", got)
	}
	if !c.IsFallback() {
		t.Error("IsFallback() = false after exhaustion")
	}
}

func TestFallbackIsPermanentForSession(t *testing.T) {
	c := testClient(t, "ws://127.0.0.1:1/feed", 1)

	if err := c.Connect(context.Background(), "dr-a"); err != nil {
		t.Fatal(err)
	}
	// Regression: a second Connect used to retry the dial loop from
	// FALLBACK. The degraded mode must stick until the session ends.
	if err := c.Connect(context.Background(), "dr-a"); err != nil {
		t.Fatal(err)
	}
	if got := c.State(); got != status.Fallback {
		t.Errorf("state = %s, want FALLBACK", got)
	}
}

func TestSendIsNoOpInFallback(t *testing.T) {
	c := testClient(t, "ws://127.0.0.1:1/feed", 1)
	if err := c.Connect(context.Background(), "dr-a"); err != nil {
		t.Fatal(err)
	}
	// Must not panic or block.
	c.Send(Event{Type: EventNewMessage, ConversationID: "conv-1"})
}

func TestReconnectResubscribes(t *testing.T) {
	feed := newTestFeed(t)
	c := testClient(t, feed.url(), 5)

	if err := c.Connect(context.Background(), "dr-a"); err != nil {
		t.Fatal(err)
	}
	unsub := c.Subscribe("conv-1", func(Event) {})
	defer unsub()
	waitFor(t, func() bool { return len(feed.eventsOfType(EventSubscribe)) == 1 },
		"initial subscribe never arrived")

	feed.dropConnection()

	waitFor(t, func() bool { return feed.dialCount() == 2 }, "client never re-dialed")
	waitFor(t, func() bool { return c.State() == status.Connected }, "client never reconnected")
	waitFor(t, func() bool { return len(feed.eventsOfType(EventSubscribe)) == 2 },
		"subscription not replayed after reconnect")
}

func TestUnsubscribeReleasesWireSubscription(t *testing.T) {
	feed := newTestFeed(t)
	c := testClient(t, feed.url(), 3)

	if err := c.Connect(context.Background(), "dr-a"); err != nil {
		t.Fatal(err)
	}

	unsubA := c.Subscribe("conv-1", func(Event) {})
	unsubB := c.Subscribe("conv-1", func(Event) {})
	waitFor(t, func() bool { return len(feed.eventsOfType(EventSubscribe)) == 1 },
		"subscribe never arrived")

	// First handler leaving keeps the wire subscription alive.
	unsubA()
	unsubB()
	waitFor(t, func() bool { return len(feed.eventsOfType(EventUnsubscribe)) == 1 },
		"unsubscribe never arrived")
	if n := len(feed.eventsOfType(EventSubscribe)); n != 1 {
		t.Errorf("subscribe events = %d, want 1", n)
	}
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	feed := newTestFeed(t)
	c := testClient(t, feed.url(), 5)

	if err := c.Connect(context.Background(), "dr-a"); err != nil {
		t.Fatal(err)
	}
	c.Disconnect()
	if got := c.State(); got != status.Disconnected {
		t.Fatalf("state = %s, want DISCONNECTED", got)
	}

	time.Sleep(100 * time.Millisecond)
	if feed.dialCount() != 1 {
		t.Errorf("dials after disconnect = %d, want 1", feed.dialCount())
	}
}
