package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/clinivo/messaging/internal/metrics"
)

// Notification is the payload posted to the notification service when a
// message lands.
type Notification struct {
	Type         string   `json:"type"`
	Title        string   `json:"title"`
	Message      string   `json:"message"`
	Metadata     Metadata `json:"metadata"`
	RecipientIDs []string `json:"recipientIds"`
}

// Metadata carries the conversation context a notification links back to.
type Metadata struct {
	ConversationID   string `json:"conversationId"`
	ConversationName string `json:"conversationName"`
	SenderID         string `json:"senderId"`
	SenderName       string `json:"senderName"`
	Timestamp        int64  `json:"timestamp"`
}

// Client posts notifications to the notification service. Delivery is
// strictly best effort: failures are logged and counted, never returned,
// so a broken notification pipeline cannot block message flow.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a notification client. An empty URL disables delivery.
func NewClient(url string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:    url,
		http:   &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// Push delivers one notification, best effort.
func (c *Client) Push(n Notification) {
	if c.url == "" || len(n.RecipientIDs) == 0 {
		return
	}

	body, err := json.Marshal(n)
	if err != nil {
		c.fail(err)
		return
	}
	resp, err := c.http.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		c.fail(err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification rejected", zap.Int("status", resp.StatusCode))
		metrics.NotificationsFailed.Inc()
	}
}

func (c *Client) fail(err error) {
	c.logger.Warn("notification delivery failed", zap.Error(err))
	metrics.NotificationsFailed.Inc()
}
