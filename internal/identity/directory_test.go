package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestLookupFetchesAndCaches(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/users/alice" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(Profile{ID: "alice", Name: "Dr. Alice"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	p, err := c.Lookup(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Dr. Alice" {
		t.Errorf("name = %q", p.Name)
	}

	if _, err := c.Lookup(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("backend hits = %d, want 1 (cached)", hits.Load())
	}
}

func TestLookupErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Lookup(context.Background(), "ghost"); err == nil {
		t.Error("404 should surface as an error")
	}
}

func TestStaticDirectory(t *testing.T) {
	dir := Static{"alice": {ID: "alice", Name: "Dr. Alice"}}

	p, err := dir.Lookup(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "Dr. Alice" {
		t.Errorf("name = %q", p.Name)
	}
	if _, err := dir.Lookup(context.Background(), "ghost"); err == nil {
		t.Error("unknown user should error")
	}
}
