package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ziadkadry99/swcache/internal/cachestore"
	"github.com/ziadkadry99/swcache/internal/network"
)

// fakeFetcher serves canned responses by request key and records calls.
type fakeFetcher struct {
	mu      sync.Mutex
	routes  map[string]*network.Response
	offline bool
	calls   []string
	reloads int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{routes: make(map[string]*network.Response)}
}

func (f *fakeFetcher) serve(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = &network.Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
		Type:   network.TypeBasic,
	}
}

func (f *fakeFetcher) serveResponse(path string, resp *network.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = resp
}

func (f *fakeFetcher) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) Fetch(_ context.Context, req *http.Request, opts network.FetchOptions) (*network.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := RequestKey(req.URL)
	f.calls = append(f.calls, key)
	if opts.Reload {
		f.reloads++
	}
	if f.offline {
		return nil, fmt.Errorf("%w: offline fetching %s", network.ErrNetwork, key)
	}
	resp, ok := f.routes[key]
	if !ok {
		return &network.Response{Status: http.StatusNotFound, Header: http.Header{}, Type: network.TypeBasic}, nil
	}
	return resp.Clone(), nil
}

// fakeClients records claims and broadcasts.
type fakeClients struct {
	mu         sync.Mutex
	open       int
	claimedBy  string
	broadcasts []any
}

func (c *fakeClients) Claim(generation string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claimedBy = generation
	return c.open
}

func (c *fakeClients) Broadcast(msg any) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts = append(c.broadcasts, msg)
	return c.open
}

// failingStorage wraps a Storage and fails writes.
type failingStorage struct {
	cachestore.Storage
	failPut  bool
	failKeys bool
}

var errStorage = errors.New("quota exceeded")

func (s *failingStorage) Put(ctx context.Context, name, key string, e cachestore.Entry) error {
	if s.failPut {
		return errStorage
	}
	return s.Storage.Put(ctx, name, key, e)
}

func (s *failingStorage) Keys(ctx context.Context) ([]string, error) {
	if s.failKeys {
		return nil, errStorage
	}
	return s.Storage.Keys(ctx)
}

func testConfig(generation string, manifest ...string) Config {
	return Config{
		Generation:      generation,
		Manifest:        manifest,
		Revalidate:      []string{"**/timetable-data.json"},
		OfflineDocument: "/index.html",
		SyncTag:         "sync-data",
		SyncResource:    "/data.json",
	}
}

func newTestWorker(t *testing.T, cfg Config, storage cachestore.Storage, fetcher network.Fetcher, opts ...Option) *Worker {
	t.Helper()
	w, err := New(cfg, storage, fetcher, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

// activeWorker returns a worker that has been installed and activated.
func activeWorker(t *testing.T, cfg Config, storage cachestore.Storage, fetcher network.Fetcher, opts ...Option) *Worker {
	t.Helper()
	w := newTestWorker(t, cfg, storage, fetcher, opts...)
	ctx := context.Background()
	if _, err := w.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := w.Activate(ctx); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	return w
}

func get(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, path, nil)
}

func putEntry(t *testing.T, s cachestore.Storage, generation, key, body string) {
	t.Helper()
	err := s.Put(context.Background(), generation, key, cachestore.Entry{
		Status: http.StatusOK,
		Type:   "basic",
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(body),
	})
	if err != nil {
		t.Fatalf("Put(%s, %s): %v", generation, key, err)
	}
}
