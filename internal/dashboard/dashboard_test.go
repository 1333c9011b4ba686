package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/swcache/internal/audit"
	"github.com/ziadkadry99/swcache/internal/cachestore"
	"github.com/ziadkadry99/swcache/internal/db"
	"github.com/ziadkadry99/swcache/internal/network"
	"github.com/ziadkadry99/swcache/internal/proxy"
)

// staticFetcher answers every request with the same page.
type staticFetcher struct{}

func (staticFetcher) Fetch(_ context.Context, req *http.Request, _ network.FetchOptions) (*network.Response, error) {
	return &network.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte("page " + req.URL.Path),
		Type:   network.TypeBasic,
	}, nil
}

func setupTest(t *testing.T) (*Dashboard, *proxy.Registration, cachestore.Storage) {
	t.Helper()

	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	storage := cachestore.NewSQLStorage(database)
	journal := audit.NewStore(database)
	reg := proxy.NewRegistration(storage, staticFetcher{}, proxy.WithRecorder(journal))

	d := New(reg, journal)
	return d, reg, storage
}

func setupRouter(d *Dashboard) chi.Router {
	r := chi.NewRouter()
	d.RegisterRoutes(r)
	return r
}

func TestStatsEndpoint(t *testing.T) {
	d, reg, storage := setupTest(t)
	r := setupRouter(d)
	ctx := context.Background()

	// A leftover generation that activation will remove.
	if err := storage.Put(ctx, "v2", "/old.html", cachestore.Entry{Status: 200, Body: []byte("old")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := reg.Register(ctx, proxy.Config{Generation: "v3", Manifest: []string{"/index.html", "/timer.html"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/_swcache/dashboard/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.Generation != "v3" || stats.State != "activated" {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.Generations) != 1 {
		t.Fatalf("expected 1 generation, got %+v", stats.Generations)
	}
	if g := stats.Generations[0]; g.Name != "v3" || g.Entries != 2 || !g.Current {
		t.Errorf("generation = %+v", g)
	}
}

func TestStatsWithoutController(t *testing.T) {
	d, _, _ := setupTest(t)
	r := setupRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/_swcache/dashboard/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var stats statsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.State != "none" || stats.Generation != "" || len(stats.Generations) != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRecentEndpoint(t *testing.T) {
	d, reg, _ := setupTest(t)
	r := setupRouter(d)

	if _, err := reg.Register(context.Background(), proxy.Config{Generation: "v3", Manifest: []string{"/index.html"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/_swcache/dashboard/recent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []audit.Entry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("decoding recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected install and activate events, got %+v", entries)
	}
	if entries[0].Action != audit.ActionActivated || entries[1].Action != audit.ActionInstalled {
		t.Errorf("events out of order: %s, %s", entries[0].Action, entries[1].Action)
	}
}

func TestRecentWithoutJournal(t *testing.T) {
	reg := proxy.NewRegistration(cachestore.NewMemoryStorage(), staticFetcher{})
	r := setupRouter(New(reg, nil))

	req := httptest.NewRequest(http.MethodGet, "/_swcache/dashboard/recent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %q", w.Body.String())
	}
}

func TestServeIndex(t *testing.T) {
	d, _, _ := setupTest(t)
	r := setupRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/_swcache/", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("expected text/html content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "swcache Dashboard") {
		t.Error("expected HTML to contain 'swcache Dashboard'")
	}
}
