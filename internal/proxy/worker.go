// Package proxy implements the offline cache proxy: a worker that owns one
// cache generation and decides per request whether to answer from the
// cache, from the network, or from a fallback document.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/swcache/internal/cachestore"
	"github.com/ziadkadry99/swcache/internal/network"
)

// Clients is the set of open page connections a worker can control.
type Clients interface {
	// Claim makes the generation the controller of every open client and
	// returns how many were claimed.
	Claim(generation string) int
	// Broadcast sends msg to every window client and returns the count.
	Broadcast(msg any) int
}

type noClients struct{}

func (noClients) Claim(string) int  { return 0 }
func (noClients) Broadcast(any) int { return 0 }

// Option configures a Worker.
type Option func(*Worker)

// WithClients attaches the page connections the worker claims and
// broadcasts to.
func WithClients(c Clients) Option {
	return func(w *Worker) {
		if c != nil {
			w.clients = c
		}
	}
}

// WithObserver registers fn to receive every warm-up result as it completes.
func WithObserver(fn func(WarmupResult)) Option {
	return func(w *Worker) { w.observer = fn }
}

// Worker is one generation of the offline cache proxy.
type Worker struct {
	id         string
	cfg        Config
	storage    cachestore.Storage
	fetcher    network.Fetcher
	clients    Clients
	classifier *Classifier
	observer   func(WarmupResult)
	recorder   Recorder
	offlineKey string
	syncKey    string
	log        *log.Entry

	mu          sync.RWMutex
	state       State
	skipWaiting bool
}

// New creates a worker in the parsed state.
func New(cfg Config, storage cachestore.Storage, fetcher network.Fetcher, opts ...Option) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	classifier, err := NewClassifier(cfg.Revalidate)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		id:         uuid.New().String(),
		cfg:        cfg,
		storage:    storage,
		fetcher:    fetcher,
		clients:    noClients{},
		classifier: classifier,
		state:      StateParsed,
	}
	if cfg.OfflineDocument != "" {
		if w.offlineKey, err = pathKey(cfg.OfflineDocument); err != nil {
			return nil, err
		}
	}
	if cfg.SyncResource != "" {
		if w.syncKey, err = pathKey(cfg.SyncResource); err != nil {
			return nil, err
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = log.WithFields(log.Fields{"generation": cfg.Generation, "worker": w.id[:8]})
	return w, nil
}

// ID returns the worker's unique id.
func (w *Worker) ID() string { return w.id }

// Generation returns the cache generation name the worker owns.
func (w *Worker) Generation() string { return w.cfg.Generation }

// Classifier returns the worker's freshness classifier.
func (w *Worker) Classifier() *Classifier { return w.classifier }

// SkipWaiting reports whether the worker asked to activate without waiting
// for the previous generation's clients to go away.
func (w *Worker) SkipWaiting() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.skipWaiting
}

// WarmupResult is the outcome of warming a single manifest path.
type WarmupResult struct {
	Path   string `json:"path"`
	Status int    `json:"status,omitempty"`
	Stored bool   `json:"stored"`
	Err    error  `json:"-"`
}

// InstallReport describes a warm-up run.
type InstallReport struct {
	Generation string
	// OpenErr is set when the generation itself could not be opened.
	OpenErr error
	Results []WarmupResult
}

// Stored returns the manifest paths that made it into the cache.
func (r *InstallReport) Stored() []string {
	var out []string
	for _, res := range r.Results {
		if res.Stored {
			out = append(out, res.Path)
		}
	}
	return out
}

// Failed returns the manifest entries that were not cached.
func (r *InstallReport) Failed() []WarmupResult {
	var out []WarmupResult
	for _, res := range r.Results {
		if !res.Stored {
			out = append(out, res)
		}
	}
	return out
}

// Install warms the worker's generation from the manifest. Individual
// failures are recorded in the report and logged; they never fail the
// install. On return the worker is installed and asks to skip waiting.
func (w *Worker) Install(ctx context.Context) (*InstallReport, error) {
	if err := w.transition(StateInstalling, StateParsed); err != nil {
		return nil, err
	}

	report := w.warmup(ctx)
	if report.OpenErr != nil {
		w.log.WithError(report.OpenErr).Warn("install: cache generation could not be opened")
	}

	// A newer install may have retired the worker while it was warming up.
	if err := w.transition(StateInstalled, StateInstalling); err != nil {
		w.log.WithError(err).Info("install: superseded before completion")
		return report, err
	}
	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()

	w.log.WithFields(log.Fields{
		"stored": len(report.Stored()),
		"failed": len(report.Failed()),
	}).Info("install complete")
	w.record(ctx, Event{
		Kind:    EventInstalled,
		Summary: fmt.Sprintf("%d stored, %d failed", len(report.Stored()), len(report.Failed())),
		Paths:   report.Stored(),
		Err:     report.OpenErr,
	})
	return report, nil
}

// warmup opens the generation and fetches every manifest path, bypassing
// intermediary caches. Results keep manifest order.
func (w *Worker) warmup(ctx context.Context) *InstallReport {
	report := &InstallReport{
		Generation: w.cfg.Generation,
		Results:    make([]WarmupResult, len(w.cfg.Manifest)),
	}
	if err := w.storage.Open(ctx, w.cfg.Generation); err != nil {
		report.OpenErr = err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.concurrency())
	for i, path := range w.cfg.Manifest {
		g.Go(func() error {
			res := w.warmPath(gctx, path)
			report.Results[i] = res
			if res.Err != nil {
				w.log.WithField("path", path).WithError(res.Err).Warn("warm-up: not cached")
			}
			if w.observer != nil {
				w.observer(res)
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (w *Worker) warmPath(ctx context.Context, path string) WarmupResult {
	res := WarmupResult{Path: path}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		res.Err = fmt.Errorf("building request: %w", err)
		return res
	}
	resp, err := w.fetcher.Fetch(ctx, req, network.FetchOptions{Reload: true})
	if err != nil {
		res.Err = err
		return res
	}
	res.Status = resp.Status
	if !resp.OK() {
		res.Err = fmt.Errorf("unexpected status %d", resp.Status)
		return res
	}
	if err := w.put(ctx, RequestKey(req.URL), resp); err != nil {
		res.Err = err
		return res
	}
	res.Stored = true
	return res
}

// ActivateReport describes the generation cleanup done on activation.
type ActivateReport struct {
	Generation string
	Deleted    []string
	// Errors holds cleanup failures; activation proceeds regardless.
	Errors  []error
	Claimed int
}

// Activate deletes every cache generation other than the worker's own and
// claims all open clients.
func (w *Worker) Activate(ctx context.Context) (*ActivateReport, error) {
	if err := w.transition(StateActivating, StateInstalled); err != nil {
		return nil, err
	}

	report := &ActivateReport{Generation: w.cfg.Generation}
	names, err := w.storage.Keys(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("listing generations: %w", err))
	}
	for _, name := range names {
		if name == w.cfg.Generation {
			continue
		}
		deleted, err := w.storage.Delete(ctx, name)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("deleting generation %s: %w", name, err))
			continue
		}
		if deleted {
			report.Deleted = append(report.Deleted, name)
		}
	}
	for _, err := range report.Errors {
		w.log.WithError(err).Warn("activate: cleanup failed")
	}

	if err := w.transition(StateActivated, StateActivating); err != nil {
		w.log.WithError(err).Info("activate: superseded before completion")
		return report, err
	}
	report.Claimed = w.clients.Claim(w.cfg.Generation)
	w.log.WithFields(log.Fields{
		"deleted": report.Deleted,
		"claimed": report.Claimed,
	}).Info("activated")
	w.record(ctx, Event{
		Kind:    EventActivated,
		Summary: fmt.Sprintf("deleted %d generations, claimed %d clients", len(report.Deleted), report.Claimed),
		Paths:   report.Deleted,
		Err:     errors.Join(report.Errors...),
	})
	return report, nil
}

// MarkRedundant retires a worker that was superseded by a newer install.
// It reports false when the worker was already redundant.
func (w *Worker) MarkRedundant() bool {
	if err := w.transition(StateRedundant, StateParsed, StateInstalling, StateInstalled, StateActivating, StateActivated); err != nil {
		return false
	}
	w.log.Info("superseded")
	w.record(context.Background(), Event{Kind: EventRedundant, Summary: "superseded by a newer install"})
	return true
}

// Source says where a fetch result came from.
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceOffline     Source = "offline-fallback"
	SourcePassthrough Source = "passthrough"
)

// Result is the answer to an intercepted request.
type Result struct {
	Response *network.Response
	Source   Source
	Class    Class
	// CacheErr records a storage failure that did not prevent answering.
	CacheErr error
}

// HandleFetch answers an intercepted request. A returned error means
// neither the network nor the cache could answer and the caller sees the
// network error.
func (w *Worker) HandleFetch(ctx context.Context, req *http.Request) (*Result, error) {
	if w.State() != StateActivated {
		resp, err := w.fetcher.Fetch(ctx, req, network.FetchOptions{})
		if err != nil {
			return nil, err
		}
		return &Result{Response: resp, Source: SourcePassthrough}, nil
	}
	if req.Method != http.MethodGet {
		resp, err := w.fetcher.Fetch(ctx, req, network.FetchOptions{})
		if err != nil {
			return nil, err
		}
		return &Result{Response: resp, Source: SourceNetwork, Class: ClassCacheFirst}, nil
	}

	key := RequestKey(req.URL)
	if w.classifier.Classify(req.URL.Path) == ClassRevalidate {
		return w.networkFirst(ctx, req, key)
	}
	return w.cacheFirst(ctx, req, key)
}

func (w *Worker) networkFirst(ctx context.Context, req *http.Request, key string) (*Result, error) {
	res := &Result{Class: ClassRevalidate}

	resp, err := w.fetcher.Fetch(ctx, req, network.FetchOptions{})
	if err == nil {
		if resp.Status == http.StatusOK {
			res.CacheErr = w.put(ctx, key, resp)
		}
		res.Response = resp
		res.Source = SourceNetwork
		return res, nil
	}

	entry, merr := w.storage.Match(ctx, w.cfg.Generation, key)
	if merr != nil {
		if !errors.Is(merr, cachestore.ErrNotFound) {
			w.log.WithField("key", key).WithError(merr).Warn("fetch: cache lookup failed")
		}
		return nil, err
	}
	res.Response = entryResponse(entry)
	res.Source = SourceCache
	return res, nil
}

func (w *Worker) cacheFirst(ctx context.Context, req *http.Request, key string) (*Result, error) {
	res := &Result{Class: ClassCacheFirst}

	entry, err := w.storage.Match(ctx, w.cfg.Generation, key)
	if err == nil {
		res.Response = entryResponse(entry)
		res.Source = SourceCache
		return res, nil
	}
	if !errors.Is(err, cachestore.ErrNotFound) {
		res.CacheErr = err
		w.log.WithField("key", key).WithError(err).Warn("fetch: cache lookup failed")
	}

	resp, ferr := w.fetcher.Fetch(ctx, req, network.FetchOptions{})
	if ferr != nil {
		if w.offlineKey == "" {
			return nil, ferr
		}
		offline, merr := w.storage.Match(ctx, w.cfg.Generation, w.offlineKey)
		if merr != nil {
			return nil, ferr
		}
		res.Response = entryResponse(offline)
		res.Source = SourceOffline
		return res, nil
	}

	// Redirected bodies would be served under the original URL.
	if resp.Status == http.StatusOK && resp.Type == network.TypeBasic && !resp.Redirected {
		if perr := w.put(ctx, key, resp); perr != nil {
			res.CacheErr = perr
		}
	}
	res.Response = resp
	res.Source = SourceNetwork
	return res, nil
}

// put stores a snapshot of resp. Failures are logged and returned so the
// caller can still answer uncached.
func (w *Worker) put(ctx context.Context, key string, resp *network.Response) error {
	err := w.storage.Put(ctx, w.cfg.Generation, key, cachestore.Entry{
		Status: resp.Status,
		Type:   string(resp.Type),
		Header: resp.Header,
		Body:   resp.Body,
	})
	if err != nil {
		w.log.WithField("key", key).WithError(err).Warn("cache write dropped")
		return fmt.Errorf("caching %s: %w", key, err)
	}
	return nil
}

func entryResponse(e *cachestore.Entry) *network.Response {
	return &network.Response{
		Status: e.Status,
		Header: e.Header,
		Body:   e.Body,
		Type:   network.ResponseType(e.Type),
		URL:    e.Key,
	}
}

// Status is a point-in-time view of a worker for diagnostics.
type Status struct {
	ID          string   `json:"id"`
	Generation  string   `json:"generation"`
	State       State    `json:"state"`
	Entries     []string `json:"entries"`
	Generations []string `json:"generations"`
	Revalidate  []string `json:"revalidate"`
}

// Status reports the worker state together with what storage holds.
func (w *Worker) Status(ctx context.Context) (*Status, error) {
	entries, err := w.storage.List(ctx, w.cfg.Generation)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	names, err := w.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}
	return &Status{
		ID:          w.id,
		Generation:  w.cfg.Generation,
		State:       w.State(),
		Entries:     entries,
		Generations: names,
		Revalidate:  w.classifier.Patterns(),
	}, nil
}
