package workspace

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// testServer fakes the workspace API with one page and one database.
func testServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/databases/db1/query", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": "page1", "archived": false},
				{"id": "page2", "archived": false},
			},
			"has_more": false,
		})
	})

	mux.HandleFunc("GET /v1/pages/page1", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"id": "page1", "archived": false})
	})

	mux.HandleFunc("PATCH /v1/pages/page1", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil || req["archived"] != true {
			t.Errorf("unexpected archive body: %s", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "page1", "archived": true})
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Notion-Version"); got != DefaultAPIVersion {
			t.Errorf("Notion-Version = %q", got)
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, ttl time.Duration) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		CachePath: filepath.Join(t.TempDir(), "cache.db"),
		CacheTTL:  ttl,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestQueryDatabase(t *testing.T) {
	var hits atomic.Int64
	c := newTestClient(t, testServer(t, &hits), time.Minute)

	res, err := c.QueryDatabase(context.Background(), "db1", nil)
	if err != nil {
		t.Fatalf("QueryDatabase: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(res.Results))
	}
	if res.Results[0].ID != "page1" {
		t.Errorf("first result = %q", res.Results[0].ID)
	}
	if res.HasMore {
		t.Error("has_more should be false")
	}
}

func TestQueryCacheServesRepeats(t *testing.T) {
	var hits atomic.Int64
	c := newTestClient(t, testServer(t, &hits), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.QueryDatabase(ctx, "db1", nil); err != nil {
			t.Fatalf("QueryDatabase #%d: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("API hits = %d, want 1 (cache should serve repeats)", got)
	}

	// A different filter is a different query, not a cache hit.
	filter := map[string]any{"property": "Status", "equals": "Done"}
	if _, err := c.QueryDatabase(ctx, "db1", filter); err != nil {
		t.Fatalf("QueryDatabase with filter: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("API hits = %d, want 2 after distinct query", got)
	}
}

func TestQueryCacheTTL(t *testing.T) {
	var hits atomic.Int64
	c := newTestClient(t, testServer(t, &hits), 50*time.Millisecond)
	ctx := context.Background()

	if _, err := c.GetPage(ctx, "page1"); err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	time.Sleep(1100 * time.Millisecond) // fetched_at has second resolution

	if _, err := c.GetPage(ctx, "page1"); err != nil {
		t.Fatalf("GetPage after TTL: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("API hits = %d, want 2 after TTL lapse", got)
	}
}

func TestArchivePageInvalidatesCache(t *testing.T) {
	var hits atomic.Int64
	c := newTestClient(t, testServer(t, &hits), time.Minute)
	ctx := context.Background()

	if _, err := c.GetPage(ctx, "page1"); err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if err := c.ArchivePage(ctx, "page1"); err != nil {
		t.Fatalf("ArchivePage: %v", err)
	}

	// The cached read is gone, so this re-hits the API.
	if _, err := c.GetPage(ctx, "page1"); err != nil {
		t.Fatalf("GetPage after archive: %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("API hits = %d, want 3 (get, patch, fresh get)", got)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"page not found"}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k"}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.GetPage(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}, nil); err == nil {
		t.Error("missing base_url should fail")
	}
	if _, err := New(Config{BaseURL: "https://api.example.com"}, nil); err == nil {
		t.Error("missing api_key should fail")
	}
}
