package transport

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/clinivo/messaging/internal/metrics"
	"github.com/clinivo/messaging/internal/status"
)

// Options configures the feed client.
type Options struct {
	// FeedURL is the WebSocket endpoint of the event feed. Empty means the
	// session runs fallback-only from the start.
	FeedURL string
	// BaseDelay is the first reconnect delay; it doubles per attempt.
	BaseDelay time.Duration
	// MaxAttempts caps dial attempts per connect/reconnect cycle. Once
	// exhausted the session degrades to polling permanently.
	MaxAttempts int
}

// Client maintains at most one live connection per process to the event
// feed and multiplexes all conversation subscriptions over it. Transport
// failure is modeled as a state, never an error: callers always end up
// either connected or in fallback, where the orchestrator's poller keeps
// messages flowing.
//
// The client is built explicitly and injected; one instance per user
// session. It exclusively owns the connection and the subscription
// registry; other components only observe state.
type Client struct {
	opts    Options
	machine *status.Machine
	logger  *zap.Logger
	dialer  *websocket.Dialer

	connectGroup singleflight.Group

	mu      sync.Mutex
	conn    *websocket.Conn
	userID  string
	subs    map[string]map[int]Handler
	nextSub int
	closed  bool

	// writeMu serializes writes; gorilla/websocket allows one writer.
	writeMu sync.Mutex
}

// NewClient creates a feed client. The state machine is owned by the
// client from here on.
func NewClient(opts Options, machine *status.Machine, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Client{
		opts:    opts,
		machine: machine,
		logger:  logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		subs:    make(map[string]map[int]Handler),
	}
}

// Connect brings up the live connection for the given user, or enters
// fallback mode if the feed stays unreachable. It is idempotent and safe
// to call concurrently; parallel callers share one attempt. The only
// error it returns is context cancellation.
func (c *Client) Connect(ctx context.Context, userID string) error {
	_, err, _ := c.connectGroup.Do("connect", func() (any, error) {
		return nil, c.connect(ctx, userID)
	})
	return err
}

func (c *Client) connect(ctx context.Context, userID string) error {
	switch c.machine.Current() {
	case status.Connected, status.Fallback:
		return nil
	}

	c.mu.Lock()
	c.userID = userID
	c.closed = false
	c.mu.Unlock()

	if err := c.machine.Transition(status.Connecting); err != nil {
		return nil
	}
	if c.opts.FeedURL == "" {
		c.logger.Info("no feed url configured, running fallback-only")
		c.enterFallback()
		return nil
	}
	return c.dialLoop(ctx)
}

// dialLoop attempts the feed connection with exponential backoff, up to
// the attempt cap. Exhaustion degrades to fallback rather than failing.
func (c *Client) dialLoop(ctx context.Context) error {
	delay := c.opts.BaseDelay
	for attempt := 1; ; attempt++ {
		conn, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			if terr := c.machine.Transition(status.Connected); terr != nil {
				_ = conn.Close()
				return nil
			}
			c.logger.Info("feed connected")
			c.resubscribe()
			go c.readLoop(conn)
			return nil
		}

		c.logger.Warn("feed dial failed",
			zap.Error(err), zap.Int("attempt", attempt), zap.Int("max", c.opts.MaxAttempts))
		if attempt >= c.opts.MaxAttempts {
			c.enterFallback()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.FeedURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	c.mu.Lock()
	q.Set("user_id", c.userID)
	c.mu.Unlock()
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// readLoop dispatches inbound events until the connection drops. An
// unclean close triggers a reconnect cycle with the same attempt cap.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var evt Event
		if err := conn.ReadJSON(&evt); err != nil {
			c.mu.Lock()
			closed := c.closed
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if closed {
				return
			}

			c.logger.Warn("feed connection lost, reconnecting", zap.Error(err))
			metrics.Reconnects.Inc()
			if terr := c.machine.Transition(status.Connecting); terr != nil {
				return
			}
			_ = c.dialLoop(context.Background())
			return
		}
		c.dispatch(evt)
	}
}

func (c *Client) dispatch(evt Event) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[evt.ConversationID]))
	for _, h := range c.subs[evt.ConversationID] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	metrics.EventsDispatched.WithLabelValues(evt.Type).Inc()
	for _, h := range handlers {
		h(evt)
	}
}

// Subscribe registers a handler for inbound events addressed to the
// conversation. Multiple handlers per conversation fan out. The returned
// function unsubscribes; the wire-level subscription is released when the
// last handler goes.
func (c *Client) Subscribe(conversationID string, h Handler) func() {
	c.mu.Lock()
	if c.subs[conversationID] == nil {
		c.subs[conversationID] = make(map[int]Handler)
	}
	first := len(c.subs[conversationID]) == 0
	id := c.nextSub
	c.nextSub++
	c.subs[conversationID][id] = h
	userID := c.userID
	c.mu.Unlock()

	if first {
		c.writeEvent(Event{Type: EventSubscribe, ConversationID: conversationID, SenderID: userID})
	}

	return func() {
		c.mu.Lock()
		delete(c.subs[conversationID], id)
		last := len(c.subs[conversationID]) == 0
		if last {
			delete(c.subs, conversationID)
		}
		c.mu.Unlock()
		if last {
			c.writeEvent(Event{Type: EventUnsubscribe, ConversationID: conversationID, SenderID: userID})
		}
	}
}

// Send publishes an event to the live feed, best effort. While in fallback
// or disconnected it is a logged no-op: propagation then relies on the
// poller, not on push.
func (c *Client) Send(evt Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	c.writeEvent(evt)
}

func (c *Client) writeEvent(evt Event) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.logger.Debug("no live feed, dropping event", zap.String("type", evt.Type))
		return
	}
	c.writeMu.Lock()
	err := conn.WriteJSON(evt)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("feed write failed", zap.Error(err), zap.String("type", evt.Type))
	}
}

// resubscribe replays wire-level subscriptions after a reconnect.
func (c *Client) resubscribe() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.subs))
	for conversationID := range c.subs {
		ids = append(ids, conversationID)
	}
	userID := c.userID
	c.mu.Unlock()

	for _, conversationID := range ids {
		c.writeEvent(Event{Type: EventSubscribe, ConversationID: conversationID, SenderID: userID})
	}
}

func (c *Client) enterFallback() {
	if err := c.machine.Transition(status.Fallback); err != nil {
		return
	}
	metrics.FallbackEntered.Inc()
	c.logger.Warn("live feed unreachable, degrading to polling for this session")
}

// IsFallback reports whether this session has degraded to polling.
func (c *Client) IsFallback() bool {
	return c.machine.Current() == status.Fallback
}

// State returns the current connection state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

// Disconnect tears the session down. A new session requires a fresh
// Connect call; fallback does not survive it.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if c.machine.Current() != status.Disconnected {
		_ = c.machine.Transition(status.Disconnected)
	}
}
