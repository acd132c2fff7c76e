package workspace

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// queryCache is a TTL'd response cache backed by a single SQLite table.
// Entries are keyed by a hash of the request; freshness is decided at read
// time against the caller's TTL, so the same table can serve different
// windows.
type queryCache struct {
	db *sql.DB
}

func newQueryCache(path string) (*queryCache, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS query_cache (
			key        TEXT PRIMARY KEY,
			request    TEXT NOT NULL,
			payload    BLOB NOT NULL,
			fetched_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return &queryCache{db: db}, nil
}

func (q *queryCache) Close() error {
	return q.db.Close()
}

// Get returns the cached payload for key if it is younger than ttl.
func (q *queryCache) Get(key cacheKeyed, ttl time.Duration) ([]byte, bool) {
	var payload []byte
	var fetchedAt int64
	err := q.db.QueryRow(
		`SELECT payload, fetched_at FROM query_cache WHERE key = ?`, key.hash,
	).Scan(&payload, &fetchedAt)
	if err != nil {
		return nil, false
	}

	if time.Since(time.Unix(fetchedAt, 0)) > ttl {
		return nil, false
	}
	return payload, true
}

// Put stores or refreshes a cache entry.
func (q *queryCache) Put(key cacheKeyed, payload []byte) error {
	_, err := q.db.Exec(`
		INSERT INTO query_cache (key, request, payload, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
	`, key.hash, key.request, payload, time.Now().Unix())
	return err
}

// InvalidatePrefix drops every entry whose request starts with prefix.
// Used after a write so stale reads cannot be served.
func (q *queryCache) InvalidatePrefix(prefix string) error {
	_, err := q.db.Exec(
		`DELETE FROM query_cache WHERE request LIKE ? || '%'`, prefix)
	return err
}

// cacheKeyed identifies a request: the hash is the primary key, the
// human-readable request string supports prefix invalidation.
type cacheKeyed struct {
	hash    string
	request string
}

func cacheKey(method, path string, body []byte) cacheKeyed {
	request := method + " " + path
	h := sha256.New()
	h.Write([]byte(request))
	h.Write([]byte{0})
	h.Write(body)
	return cacheKeyed{
		hash:    hex.EncodeToString(h.Sum(nil)),
		request: request,
	}
}
