package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Profile is the displayable identity behind an opaque user ID. The
// messaging core never interprets the ID itself.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// Directory resolves opaque user IDs to display attributes.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*Profile, error)
}

// Client is a Directory backed by the identity provider's HTTP API.
// Profiles are cached for the client's lifetime; display names change
// rarely enough that staleness is acceptable.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	cache map[string]*Profile
}

// NewClient creates a directory client for the given identity base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		cache:   make(map[string]*Profile),
	}
}

func (c *Client) Lookup(ctx context.Context, userID string) (*Profile, error) {
	c.mu.RLock()
	p, ok := c.cache[userID]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	endpoint := c.baseURL + "/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity lookup: status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}

	c.mu.Lock()
	c.cache[userID] = &profile
	c.mu.Unlock()
	return &profile, nil
}

// Static is a Directory over a fixed profile set, for tests and
// single-tenant deployments without an identity endpoint.
type Static map[string]Profile

func (s Static) Lookup(_ context.Context, userID string) (*Profile, error) {
	p, ok := s[userID]
	if !ok {
		return nil, fmt.Errorf("unknown user %q", userID)
	}
	return &p, nil
}
