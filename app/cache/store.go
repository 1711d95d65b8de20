// Package cache implements the versioned offline cache: named buckets of stored
// responses keyed by method and path, a lifecycle worker (install, activate, serve)
// and the cache-first request handler with network fallback.
package cache

import (
	"fmt"
	"net/http"
	"time"
)

// Entry is a single cached response. Body holds an explicit copy of the payload,
// captured before the original response is handed back to the caller.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Clone returns a deep copy of the entry, safe to hand out from shared storage.
func (e Entry) Clone() Entry {
	res := Entry{Status: e.Status, StoredAt: e.StoredAt}
	res.Header = make(http.Header, len(e.Header))
	for k, vv := range e.Header {
		res.Header[k] = append([]string(nil), vv...)
	}
	res.Body = append([]byte(nil), e.Body...)
	return res
}

// Store is a single named bucket. Implementations are safe for concurrent use;
// concurrent Set on the same key is last-write-wins, entries are idempotent
// within one version so the race is benign.
type Store interface {
	Get(key string) (Entry, bool)
	Set(key string, e Entry) error
	Keys() ([]string, error)
	Len() int
}

// Buckets manages named buckets. Only one bucket is current at any time, the
// worker deletes all others on activation.
type Buckets interface {
	Open(name string) (Store, error)
	List() ([]string, error)
	Delete(name string) error
	Close() error
}

// Key builds the cache key for a request, method plus root-relative URL.
func Key(r *http.Request) string {
	u := r.URL.Path
	if u == "" {
		u = "/"
	}
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return r.Method + " " + u
}

// KeyFor builds the cache key for a method and root-relative path.
func KeyFor(method, path string) string {
	return fmt.Sprintf("%s %s", method, path)
}
