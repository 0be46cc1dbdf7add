package timeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/clinivo/messaging/internal/bus"
	"github.com/clinivo/messaging/internal/chat"
	"github.com/clinivo/messaging/internal/store"
)

// Source is what the coordinator needs from the orchestrator: delivery
// registration and the initial durable load.
type Source interface {
	Watch(conversationID string)
	Unwatch(conversationID string)
	Messages(ctx context.Context, conversationID string) ([]store.Message, error)
}

// entry is one timeline slot. Pending marks an optimistic message whose
// durable write has not been confirmed yet.
type entry struct {
	msg     store.Message
	pending bool
}

type timeline struct {
	byID  map[string]*entry
	order []string
}

// Coordinator merges every delivery path of an open conversation into one
// consistent view: the initial durable load, messages pushed over the live
// feed, batches re-fetched by the fallback poller, and the caller's own
// optimistic sends. Merging is keyed by message ID, so overlapping sources
// never duplicate, and ordered by (created_at, id), so arrival order never
// leaks into display order.
type Coordinator struct {
	source Source
	bus    *bus.Bus
	logger *zap.Logger

	mu        sync.Mutex
	timelines map[string]*timeline

	refresh chan struct{}
	unsub   func()
	done    chan struct{}
}

// NewCoordinator creates a coordinator over the given source and bus.
func NewCoordinator(source Source, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		source:    source,
		bus:       b,
		logger:    logger,
		timelines: make(map[string]*timeline),
		refresh:   make(chan struct{}, 1),
	}
}

// Start subscribes to message events. Stop with Stop.
func (c *Coordinator) Start() {
	events, unsub := c.bus.Subscribe("message.", 64)
	c.unsub = unsub
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		for evt := range events {
			c.handle(evt)
		}
	}()
}

// Stop unsubscribes and waits for the event loop to drain.
func (c *Coordinator) Stop() {
	if c.unsub == nil {
		return
	}
	c.unsub()
	<-c.done
}

// Open starts tracking a conversation: registers it for live delivery and
// seeds the timeline with the durable history.
func (c *Coordinator) Open(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if _, ok := c.timelines[conversationID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.timelines[conversationID] = &timeline{byID: make(map[string]*entry)}
	c.mu.Unlock()

	c.source.Watch(conversationID)

	msgs, err := c.source.Messages(ctx, conversationID)
	if err != nil {
		c.source.Unwatch(conversationID)
		c.mu.Lock()
		delete(c.timelines, conversationID)
		c.mu.Unlock()
		return fmt.Errorf("initial load: %w", err)
	}
	c.mergeBatch(conversationID, msgs, false)
	return nil
}

// Close stops tracking a conversation and drops its timeline.
func (c *Coordinator) Close(conversationID string) {
	c.mu.Lock()
	_, ok := c.timelines[conversationID]
	delete(c.timelines, conversationID)
	c.mu.Unlock()
	if ok {
		c.source.Unwatch(conversationID)
	}
}

// Messages returns a snapshot of the merged timeline, ordered by
// (created_at, id). Pending optimistic entries are included.
func (c *Coordinator) Messages(conversationID string) []store.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	tl, ok := c.timelines[conversationID]
	if !ok {
		return nil
	}
	out := make([]store.Message, 0, len(tl.order))
	for _, id := range tl.order {
		out = append(out, tl.byID[id].msg)
	}
	return out
}

// Pending reports whether a message is still an unconfirmed optimistic
// entry.
func (c *Coordinator) Pending(conversationID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tl, ok := c.timelines[conversationID]
	if !ok {
		return false
	}
	e, ok := tl.byID[messageID]
	return ok && e.pending
}

// RefreshCh signals timeline changes. The channel is coalescing: one
// signal may cover several merges, so consumers re-read snapshots rather
// than counting signals.
func (c *Coordinator) RefreshCh() <-chan struct{} {
	return c.refresh
}

func (c *Coordinator) handle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageLocal:
		if msg, ok := evt.Payload.(store.Message); ok {
			c.merge(msg.ConversationID, msg, true)
		}
	case bus.KindMessagePushed, bus.KindMessageSent:
		if msg, ok := evt.Payload.(store.Message); ok {
			c.merge(msg.ConversationID, msg, false)
		}
	case bus.KindMessagePolled:
		if batch, ok := evt.Payload.(chat.PolledBatch); ok {
			c.mergeBatch(batch.ConversationID, batch.Messages, false)
		}
	case bus.KindMessageRetracted:
		if r, ok := evt.Payload.(chat.Retraction); ok {
			c.remove(r.ConversationID, r.MessageID)
		}
	}
}

func (c *Coordinator) merge(conversationID string, msg store.Message, pending bool) {
	c.mergeBatch(conversationID, []store.Message{msg}, pending)
}

// mergeBatch inserts messages by ID. A durable copy replaces a pending
// entry with the same ID; otherwise existing entries win, so re-delivered
// batches are no-ops.
func (c *Coordinator) mergeBatch(conversationID string, msgs []store.Message, pending bool) {
	c.mu.Lock()
	tl, ok := c.timelines[conversationID]
	if !ok {
		c.mu.Unlock()
		return
	}

	changed := false
	for _, msg := range msgs {
		if existing, ok := tl.byID[msg.ID]; ok {
			if existing.pending && !pending {
				existing.msg = msg
				existing.pending = false
				changed = true
			}
			continue
		}
		tl.byID[msg.ID] = &entry{msg: msg, pending: pending}
		tl.order = append(tl.order, msg.ID)
		changed = true
	}
	if changed {
		sort.Slice(tl.order, func(i, j int) bool {
			a, b := tl.byID[tl.order[i]].msg, tl.byID[tl.order[j]].msg
			if a.CreatedAt != b.CreatedAt {
				return a.CreatedAt < b.CreatedAt
			}
			return a.ID < b.ID
		})
	}
	c.mu.Unlock()

	if changed {
		c.signal()
	}
}

func (c *Coordinator) remove(conversationID, messageID string) {
	c.mu.Lock()
	tl, ok := c.timelines[conversationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if _, ok := tl.byID[messageID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(tl.byID, messageID)
	for i, id := range tl.order {
		if id == messageID {
			tl.order = append(tl.order[:i], tl.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.signal()
}

func (c *Coordinator) signal() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}
