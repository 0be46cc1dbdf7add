package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clinivo/messaging/internal/bus"
	"github.com/clinivo/messaging/internal/metrics"
	"github.com/clinivo/messaging/internal/store"
)

// PolledBatch is the bus payload of one fallback poll for one
// conversation. Batches overlap across cycles; the merge downstream is
// idempotent, so re-delivery is harmless.
type PolledBatch struct {
	ConversationID string
	Messages       []store.Message
}

// Poller keeps watched conversations flowing while the transport is in
// fallback mode. It re-fetches durable history on a fixed interval and
// republishes it; while the feed is live it idles.
type Poller struct {
	service  *Service
	interval time.Duration
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller over the service's watched set.
func NewPoller(service *Service, interval time.Duration, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		service:  service,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the poll loop. Stop with Stop.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx)
}

// Stop halts the loop and waits for the in-flight cycle to finish.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.service.transport.IsFallback() {
				continue
			}
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	metrics.PollCycles.Inc()
	for _, conversationID := range p.service.WatchedConversations() {
		msgs, err := p.service.store.GetMessages(ctx, conversationID)
		if err != nil {
			p.logger.Warn("poll fetch failed",
				zap.Error(err), zap.String("conversation_id", conversationID))
			continue
		}
		p.service.publish(bus.KindMessagePolled, PolledBatch{
			ConversationID: conversationID,
			Messages:       msgs,
		})
	}
}
