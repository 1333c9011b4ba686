package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ziadkadry99/swcache/internal/cachestore"
	"github.com/ziadkadry99/swcache/internal/clients"
	"github.com/ziadkadry99/swcache/internal/network"
	"github.com/ziadkadry99/swcache/internal/proxy"
	"github.com/ziadkadry99/swcache/internal/syncmgr"
)

type fixture struct {
	srv     *Server
	origin  *httptest.Server
	storage *cachestore.MemoryStorage
	hub     *clients.Hub
	syncs   *syncmgr.Manager
	hits    *int32
}

// newOrigin serves a tiny static site.
func newOrigin(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<h1>home</h1>"))
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{ "items": [1, 2] }`))
	})
	mux.HandleFunc("/timetable-data.json", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Write([]byte(`{"v":1}`))
	})
	origin := httptest.NewServer(mux)
	t.Cleanup(origin.Close)
	return origin
}

func setup(t *testing.T, register bool) *fixture {
	t.Helper()
	f := &fixture{hits: new(int32), storage: cachestore.NewMemoryStorage(), hub: clients.NewHub()}
	f.origin = newOrigin(t, f.hits)

	fetcher, err := network.NewHTTPFetcher(f.origin.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	reg := proxy.NewRegistration(f.storage, fetcher, proxy.WithClients(f.hub))
	if register {
		_, err := reg.Register(context.Background(), proxy.Config{
			Generation:      "tcas70-v3",
			Manifest:        []string{"/index.html", "/data.json", "/timetable-data.json"},
			Revalidate:      []string{"**/timetable-data.json"},
			OfflineDocument: "/index.html",
			SyncTag:         "sync-data",
			SyncResource:    "/data.json",
		})
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	f.syncs = syncmgr.New(context.Background(), reg.Sync, syncmgr.Options{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})
	f.srv = New(Config{Port: 0}, reg, f.hub, f.syncs)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	f := setup(t, false)

	w := f.do("GET", "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestCORSHeaders(t *testing.T) {
	f := setup(t, false)
	srv := New(Config{Port: 0, AllowAll: true}, f.srv.Registration(), nil, nil)

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS Allow-Origin header")
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("allow-all mode sent Allow-Credentials %q", got)
	}
}

func TestCORSCredentialsForLocalOrigins(t *testing.T) {
	f := setup(t, false)

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}
}

func TestPassthroughWithoutController(t *testing.T) {
	f := setup(t, false)

	w := f.do("GET", "/index.html", "")
	if w.Code != http.StatusOK || w.Body.String() != "<h1>home</h1>" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
	if src := w.Header().Get(SourceHeader); src != string(proxy.SourcePassthrough) {
		t.Errorf("source = %q", src)
	}
	keys, _ := f.storage.Keys(context.Background())
	if len(keys) != 0 {
		t.Errorf("passthrough touched storage: %v", keys)
	}
}

func TestCacheFirstServesFromCache(t *testing.T) {
	f := setup(t, true)
	before := atomic.LoadInt32(f.hits)

	w := f.do("GET", "/index.html", "")
	if w.Code != http.StatusOK || w.Body.String() != "<h1>home</h1>" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
	if src := w.Header().Get(SourceHeader); src != string(proxy.SourceCache) {
		t.Errorf("source = %q", src)
	}
	if w.Header().Get("Content-Type") != "text/html" {
		t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
	}
	if atomic.LoadInt32(f.hits) != before {
		t.Error("cache hit reached the origin")
	}
}

func TestOfflineFallbacks(t *testing.T) {
	f := setup(t, true)
	f.origin.Close()

	// Always-revalidate path falls back to its cached copy.
	w := f.do("GET", "/timetable-data.json", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"v":1}` {
		t.Errorf("timetable: got %d %q", w.Code, w.Body.String())
	}
	if src := w.Header().Get(SourceHeader); src != string(proxy.SourceCache) {
		t.Errorf("timetable source = %q", src)
	}

	// Uncached cache-first path gets the offline document.
	w = f.do("GET", "/timer.html", "")
	if w.Code != http.StatusOK || w.Body.String() != "<h1>home</h1>" {
		t.Errorf("offline: got %d %q", w.Code, w.Body.String())
	}
	if src := w.Header().Get(SourceHeader); src != string(proxy.SourceOffline) {
		t.Errorf("offline source = %q", src)
	}

	// Uncached revalidate path has nothing to fall back on.
	w = f.do("GET", "/other/timetable-data.json", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	f := setup(t, false)
	if w := f.do("GET", "/_swcache/status", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without controller, got %d", w.Code)
	}

	f = setup(t, true)
	w := f.do("GET", "/_swcache/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Generation  string   `json:"generation"`
		State       string   `json:"state"`
		EntryCount  int      `json:"entry_count"`
		Generations []string `json:"generations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Generation != "tcas70-v3" || body.State != "activated" || body.EntryCount != 3 {
		t.Errorf("status = %+v", body)
	}
	if len(body.Generations) != 1 || body.Generations[0] != "tcas70-v3" {
		t.Errorf("generations = %v", body.Generations)
	}
}

func TestMessageDirectReply(t *testing.T) {
	f := setup(t, true)

	w := f.do("POST", "/_swcache/message", `{"type":"FORCE_REFRESH"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var reply proxy.Reply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reply.Type != proxy.MessageForceRefreshDone || reply.Stored != 3 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestMessageMalformed(t *testing.T) {
	f := setup(t, true)

	w := f.do("POST", "/_swcache/message", `not json`)
	var reply proxy.Reply
	if err := json.Unmarshal(w.Body.Bytes(), &reply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reply.Type != proxy.MessageForceRefreshFailed || reply.Error == "" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestMessageBroadcast(t *testing.T) {
	f := setup(t, true)

	w := f.do("POST", "/_swcache/message?broadcast=true", `{"type":"FORCE_REFRESH"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), proxy.MessageForceRefreshDone) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSyncRoute(t *testing.T) {
	f := setup(t, true)

	w := f.do("POST", "/_swcache/sync/sync-data", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	f.syncs.Wait()

	out := <-f.syncs.Outcomes()
	if out.Err != nil {
		t.Fatalf("sync failed: %v", out.Err)
	}
	e, err := f.storage.Match(context.Background(), "tcas70-v3", "/data.json")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if string(e.Body) != `{"items":[1,2]}` {
		t.Errorf("synced body = %q", e.Body)
	}
}

func TestWebsocketDirectReply(t *testing.T) {
	f := setup(t, true)
	ts := httptest.NewServer(f.srv.Router())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/_swcache/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "FORCE_REFRESH", "reply": true}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply proxy.Reply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if reply.Type != proxy.MessageForceRefreshDone {
		t.Errorf("reply = %+v", reply)
	}
}
