package proxy

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ziadkadry99/swcache/internal/cachestore"
	"github.com/ziadkadry99/swcache/internal/network"
)

func TestRegisterActivatesImmediately(t *testing.T) {
	storage := cachestore.NewMemoryStorage()
	fetcher := newFakeFetcher()
	fetcher.serve("/index.html", http.StatusOK, "home")
	clients := &fakeClients{open: 1}
	reg := NewRegistration(storage, fetcher, WithClients(clients))

	res, err := reg.Register(context.Background(), testConfig("v2", "/index.html"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Activate == nil {
		t.Fatal("expected activation report")
	}
	if reg.Controller() != res.Worker || reg.Waiting() != nil {
		t.Error("new worker is not the controller")
	}
	if res.Worker.State() != StateActivated {
		t.Errorf("State = %s", res.Worker.State())
	}
	if clients.claimedBy != "v2" {
		t.Errorf("clients claimed by %q", clients.claimedBy)
	}
}

func TestRegisterSupersedesPreviousGeneration(t *testing.T) {
	storage := cachestore.NewMemoryStorage()
	fetcher := newFakeFetcher()
	fetcher.serve("/index.html", http.StatusOK, "home")
	reg := NewRegistration(storage, fetcher)
	ctx := context.Background()

	first, err := reg.Register(ctx, testConfig("v2", "/index.html"))
	if err != nil {
		t.Fatalf("Register v2: %v", err)
	}
	second, err := reg.Register(ctx, testConfig("v3", "/index.html"))
	if err != nil {
		t.Fatalf("Register v3: %v", err)
	}

	if first.Worker.State() != StateRedundant {
		t.Errorf("old worker State = %s, want redundant", first.Worker.State())
	}
	if reg.Controller() != second.Worker {
		t.Error("v3 is not in control")
	}
	keys, _ := storage.Keys(ctx)
	if strings.Join(keys, ",") != "v3" {
		t.Errorf("generations = %v", keys)
	}
	if strings.Join(second.Activate.Deleted, ",") != "v2" {
		t.Errorf("Deleted = %v", second.Activate.Deleted)
	}
}

func TestRegisterInvalidConfig(t *testing.T) {
	reg := NewRegistration(cachestore.NewMemoryStorage(), newFakeFetcher())
	if _, err := reg.Register(context.Background(), Config{}); err == nil {
		t.Error("expected error")
	}
	if reg.Controller() != nil {
		t.Error("invalid config produced a controller")
	}
}

func TestActivateWaitingWithoutWorker(t *testing.T) {
	reg := NewRegistration(cachestore.NewMemoryStorage(), newFakeFetcher())
	if _, err := reg.ActivateWaiting(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v", err)
	}
}

func TestClassifier(t *testing.T) {
	c, err := NewClassifier([]string{"**/timetable-data.json", "/api/*.json", ""})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	tests := []struct {
		path string
		want Class
	}{
		{"/timetable-data.json", ClassRevalidate},
		{"/tcas/timetable-data.json", ClassRevalidate},
		{"/api/countdown.json", ClassRevalidate},
		{"/api/v1/countdown.json", ClassCacheFirst},
		{"/data.json", ClassCacheFirst},
		{"/timetable-data.json.bak", ClassCacheFirst},
		{"/index.html", ClassCacheFirst},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.path); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
	if got := strings.Join(c.Patterns(), ","); got != "**/timetable-data.json,api/*.json" {
		t.Errorf("Patterns = %q", got)
	}
}

func TestStateString(t *testing.T) {
	if StateActivated.String() != "activated" {
		t.Errorf("String = %q", StateActivated.String())
	}
	if State(42).String() != "state(42)" {
		t.Errorf("String = %q", State(42).String())
	}
	b, _ := StateInstalling.MarshalText()
	if string(b) != "installing" {
		t.Errorf("MarshalText = %q", b)
	}
}

func TestRegistrationSyncWithoutController(t *testing.T) {
	reg := NewRegistration(cachestore.NewMemoryStorage(), newFakeFetcher())
	if err := reg.Sync(context.Background(), "sync-data"); !errors.Is(err, ErrNoController) {
		t.Errorf("err = %v, want ErrNoController", err)
	}
}

// gatedFetcher holds fetches of one path until release is closed.
type gatedFetcher struct {
	*fakeFetcher
	path    string
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGatedFetcher(path string) *gatedFetcher {
	return &gatedFetcher{
		fakeFetcher: newFakeFetcher(),
		path:        path,
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedFetcher) Fetch(ctx context.Context, req *http.Request, opts network.FetchOptions) (*network.Response, error) {
	if RequestKey(req.URL) == g.path {
		g.once.Do(func() { close(g.started) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.fakeFetcher.Fetch(ctx, req, opts)
}

func waitStarted(t *testing.T, g *gatedFetcher) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("gated fetch never started")
	}
}

func TestRetiredDuringInstallStaysRedundant(t *testing.T) {
	fetcher := newGatedFetcher("/slow")
	fetcher.serve("/slow", http.StatusOK, "slow")
	w := newTestWorker(t, testConfig("v1", "/slow"), cachestore.NewMemoryStorage(), fetcher)

	errc := make(chan error, 1)
	go func() {
		_, err := w.Install(context.Background())
		errc <- err
	}()
	waitStarted(t, fetcher)

	if !w.MarkRedundant() {
		t.Fatal("MarkRedundant on an installing worker returned false")
	}
	close(fetcher.release)

	if err := <-errc; !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Install err = %v, want ErrInvalidTransition", err)
	}
	if w.State() != StateRedundant {
		t.Errorf("State = %s, want redundant", w.State())
	}
	if w.MarkRedundant() {
		t.Error("MarkRedundant retired an already redundant worker")
	}
	if _, err := w.Activate(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Activate after retirement: err = %v", err)
	}
}

func TestOverlappingRegisterActivatesNewest(t *testing.T) {
	storage := cachestore.NewMemoryStorage()
	fetcher := newGatedFetcher("/slow")
	fetcher.serve("/slow", http.StatusOK, "slow")
	fetcher.serve("/index.html", http.StatusOK, "home")
	reg := NewRegistration(storage, fetcher)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := reg.Register(ctx, testConfig("v1", "/slow"))
		errc <- err
	}()
	waitStarted(t, fetcher)

	second, err := reg.Register(ctx, testConfig("v2", "/index.html"))
	if err != nil {
		t.Fatalf("Register v2: %v", err)
	}
	if second.Activate == nil {
		t.Error("v2 was not activated")
	}
	close(fetcher.release)

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Register v1 err = %v, want ErrSuperseded", err)
	}
	if reg.Controller() != second.Worker || reg.Waiting() != nil {
		t.Fatal("v2 is not the sole controller")
	}
	if second.Worker.State() != StateActivated {
		t.Errorf("v2 State = %s", second.Worker.State())
	}
	keys, _ := storage.Keys(ctx)
	if strings.Join(keys, ",") != "v2" {
		t.Errorf("generations = %v, want only v2", keys)
	}

	res, err := reg.Controller().HandleFetch(ctx, get("/index.html"))
	if err != nil {
		t.Fatalf("HandleFetch: %v", err)
	}
	if res.Source != SourceCache {
		t.Errorf("Source = %s, want cache", res.Source)
	}
}
