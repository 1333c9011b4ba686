// Package cachestore holds versioned cache generations of response
// snapshots. A generation is a named set of request key to response
// entries; callers decide which generation is current.
package cachestore

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNotFound is returned by Match when the generation or key is absent.
var ErrNotFound = errors.New("cache entry not found")

// Entry is a stored response snapshot taken at insertion time.
type Entry struct {
	Key      string      `json:"key"`
	Status   int         `json:"status"`
	Type     string      `json:"type"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"-"`
	Digest   string      `json:"digest"`
	StoredAt time.Time   `json:"stored_at"`
}

// Storage is the cache storage primitive. Writes replace whole entries, so
// concurrent puts for the same key resolve to the last writer.
type Storage interface {
	// Keys returns generation names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Open creates the generation if it does not exist.
	Open(ctx context.Context, name string) error
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes a generation and every entry in it. It reports
	// whether anything was deleted.
	Delete(ctx context.Context, name string) (bool, error)
	Match(ctx context.Context, name, key string) (*Entry, error)
	// Put stores e under key, opening the generation if needed.
	Put(ctx context.Context, name, key string, e Entry) error
	// List returns the entry keys of a generation, sorted.
	List(ctx context.Context, name string) ([]string, error)
}

// cloneEntry returns a deep copy so callers never share header maps or
// body slices with the store.
func cloneEntry(e Entry) Entry {
	c := e
	c.Header = e.Header.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return c
}
