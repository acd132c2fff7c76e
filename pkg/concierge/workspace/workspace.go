// Package workspace implements a client for a Notion-style workspace
// database API: querying databases, fetching pages, and archiving pages.
// Read results are cached in a small SQLite table with a TTL so repeated
// lookups inside the window do not re-hit the API.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIVersion is the workspace API revision sent with every request.
const DefaultAPIVersion = "2022-06-28"

// Config holds workspace client settings.
type Config struct {
	// BaseURL is the API endpoint, e.g. "https://api.notion.com".
	BaseURL string `yaml:"base_url"`

	// APIKey is the integration token.
	APIKey string `yaml:"api_key"`

	// Version is the API revision header. Empty means DefaultAPIVersion.
	Version string `yaml:"version"`

	// CachePath is the SQLite file for the query cache. Empty disables
	// caching.
	CachePath string `yaml:"cache_path"`

	// CacheTTL is how long cached query results stay fresh.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Client talks to the workspace API.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  *queryCache
	logger *slog.Logger
}

// Page is a workspace page.
type Page struct {
	ID             string         `json:"id"`
	URL            string         `json:"url"`
	CreatedTime    time.Time      `json:"created_time"`
	LastEditedTime time.Time      `json:"last_edited_time"`
	Archived       bool           `json:"archived"`
	Properties     map[string]any `json:"properties"`
}

// QueryResult is one page of database query results.
type QueryResult struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

// New creates a workspace client. The query cache is opened lazily on
// first use; a broken cache degrades to direct API calls.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("workspace: base_url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("workspace: api_key is required")
	}
	if cfg.Version == "" {
		cfg.Version = DefaultAPIVersion
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "workspace"),
	}

	if cfg.CachePath != "" {
		cache, err := newQueryCache(cfg.CachePath)
		if err != nil {
			c.logger.Warn("query cache unavailable, running uncached", "error", err)
		} else {
			c.cache = cache
		}
	}

	return c, nil
}

// Close releases the query cache.
func (c *Client) Close() error {
	if c.cache != nil {
		return c.cache.Close()
	}
	return nil
}

// QueryDatabase runs a database query. The filter may be nil. Results are
// served from the cache when a fresh entry exists for the same query.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, filter map[string]any) (*QueryResult, error) {
	body := map[string]any{}
	if filter != nil {
		body["filter"] = filter
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	path := fmt.Sprintf("/v1/databases/%s/query", databaseID)
	raw, err := c.cachedPost(ctx, path, payload)
	if err != nil {
		return nil, err
	}

	var result QueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding query result: %w", err)
	}
	return &result, nil
}

// GetPage fetches a single page by ID.
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	raw, err := c.cachedGet(ctx, "/v1/pages/"+pageID)
	if err != nil {
		return nil, err
	}

	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decoding page: %w", err)
	}
	return &page, nil
}

// ArchivePage archives a page. Cached reads for the page are invalidated
// so the archive is visible immediately.
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	payload := []byte(`{"archived":true}`)
	if _, err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, payload); err != nil {
		return err
	}

	if c.cache != nil {
		if err := c.cache.InvalidatePrefix("GET /v1/pages/" + pageID); err != nil {
			c.logger.Warn("cache invalidation failed", "page", pageID, "error", err)
		}
	}

	c.logger.Info("page archived", "page", pageID)
	return nil
}

// cachedGet serves a GET through the query cache.
func (c *Client) cachedGet(ctx context.Context, path string) ([]byte, error) {
	return c.cached(ctx, http.MethodGet, path, nil)
}

// cachedPost serves a POST through the query cache. Queries are reads in
// this API, so caching them is safe.
func (c *Client) cachedPost(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.cached(ctx, http.MethodPost, path, body)
}

func (c *Client) cached(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	key := cacheKey(method, path, body)

	if c.cache != nil {
		if raw, ok := c.cache.Get(key, c.cfg.CacheTTL); ok {
			c.logger.Debug("cache hit", "method", method, "path", path)
			return raw, nil
		}
	}

	raw, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Put(key, raw); err != nil {
			c.logger.Warn("cache write failed", "error", err)
		}
	}
	return raw, nil
}

// do performs one API request and returns the response body.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Notion-Version", c.cfg.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workspace request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("workspace API returned %d: %s", resp.StatusCode, truncate(string(raw), 500))
	}

	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
