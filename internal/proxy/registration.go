package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ziadkadry99/swcache/internal/cachestore"
	"github.com/ziadkadry99/swcache/internal/network"
)

// Registration hosts the workers of one scope: at most one active worker
// controlling clients and at most one installed worker waiting to replace it.
type Registration struct {
	storage cachestore.Storage
	fetcher network.Fetcher
	opts    []Option

	activating sync.Mutex

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker
}

// NewRegistration creates an empty registration. opts are applied to every
// worker it creates.
func NewRegistration(storage cachestore.Storage, fetcher network.Fetcher, opts ...Option) *Registration {
	return &Registration{storage: storage, fetcher: fetcher, opts: opts}
}

// RegisterResult bundles the reports of a registration.
type RegisterResult struct {
	Worker   *Worker
	Install  *InstallReport
	Activate *ActivateReport
}

// ErrSuperseded is returned when a newer Register retired the worker
// before it could take control.
var ErrSuperseded = errors.New("superseded by a newer install")

// Register installs a new worker for cfg. If the worker skips waiting, or
// nothing is active yet, it is activated at once and the previously active
// worker becomes redundant. Only the most recently registered worker is
// ever activated.
func (r *Registration) Register(ctx context.Context, cfg Config) (*RegisterResult, error) {
	w, err := New(cfg, r.storage, r.fetcher, r.opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.waiting != nil {
		r.waiting.MarkRedundant()
	}
	r.waiting = w
	r.mu.Unlock()

	install, err := w.Install(ctx)
	if err != nil {
		if w.State() == StateRedundant {
			r.discard(ctx, w)
			err = ErrSuperseded
		}
		return nil, fmt.Errorf("installing %s: %w", cfg.Generation, err)
	}
	result := &RegisterResult{Worker: w, Install: install}

	r.mu.RLock()
	current := r.waiting == w
	activateNow := w.SkipWaiting() || r.active == nil
	r.mu.RUnlock()
	if !current {
		r.discard(ctx, w)
		return result, fmt.Errorf("activating %s: %w", cfg.Generation, ErrSuperseded)
	}
	if !activateNow {
		return result, nil
	}

	result.Activate, err = r.activate(ctx, w)
	if err != nil {
		return result, err
	}
	return result, nil
}

// ActivateWaiting promotes the waiting worker to active.
func (r *Registration) ActivateWaiting(ctx context.Context) (*ActivateReport, error) {
	return r.activate(ctx, nil)
}

// activate promotes want, or whichever worker is waiting when want is nil.
// Activations are serialized so an older generation's cleanup never runs
// after a newer one took control.
func (r *Registration) activate(ctx context.Context, want *Worker) (*ActivateReport, error) {
	r.activating.Lock()
	defer r.activating.Unlock()

	r.mu.Lock()
	w := r.waiting
	if w == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: no waiting worker", ErrInvalidTransition)
	}
	if want != nil && w != want {
		r.mu.Unlock()
		return nil, fmt.Errorf("activating %s: %w", want.Generation(), ErrSuperseded)
	}
	prev := r.active
	r.waiting = nil
	r.active = w
	r.mu.Unlock()

	if prev != nil {
		prev.MarkRedundant()
	}
	report, err := w.Activate(ctx)
	if err != nil {
		if w.State() == StateRedundant {
			err = ErrSuperseded
		}
		return nil, fmt.Errorf("activating %s: %w", w.Generation(), err)
	}
	return report, nil
}

// discard deletes the generation of a superseded worker unless a live
// worker still owns it.
func (r *Registration) discard(ctx context.Context, w *Worker) {
	r.mu.RLock()
	inUse := (r.active != nil && r.active.Generation() == w.Generation()) ||
		(r.waiting != nil && r.waiting.Generation() == w.Generation())
	r.mu.RUnlock()
	if inUse {
		return
	}
	if _, err := r.storage.Delete(ctx, w.Generation()); err != nil {
		w.log.WithError(err).Warn("discarding superseded generation")
	}
}

// Controller returns the active worker, or nil.
func (r *Registration) Controller() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the installed worker waiting to activate, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Fetcher returns the network fetcher used when no worker is in control.
func (r *Registration) Fetcher() network.Fetcher { return r.fetcher }

// Storage returns the cache storage shared by the registration's workers.
func (r *Registration) Storage() cachestore.Storage { return r.storage }

// ErrNoController is returned when an operation needs an active worker and
// none is in control.
var ErrNoController = errors.New("no active worker")

// Sync forwards a background sync trigger to the active worker.
func (r *Registration) Sync(ctx context.Context, tag string) error {
	w := r.Controller()
	if w == nil {
		return ErrNoController
	}
	return w.Sync(ctx, tag)
}
