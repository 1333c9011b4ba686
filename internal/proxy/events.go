package proxy

import (
	"context"
	"errors"
)

// EventKind names a lifecycle event of a worker.
type EventKind string

const (
	EventInstalled     EventKind = "installed"
	EventActivated     EventKind = "activated"
	EventRedundant     EventKind = "redundant"
	EventRefreshed     EventKind = "refreshed"
	EventRefreshFailed EventKind = "refresh_failed"
	EventSynced        EventKind = "synced"
	EventSyncFailed    EventKind = "sync_failed"
)

// Event is one recorded lifecycle step.
type Event struct {
	Kind       EventKind
	Generation string
	Worker     string
	Summary    string
	// Paths lists the paths or generations the step touched.
	Paths []string
	Err   error
}

// Recorder persists lifecycle events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// WithRecorder makes the worker record its lifecycle events to r.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.recorder = r }
}

func (w *Worker) record(ctx context.Context, e Event) {
	if w.recorder == nil {
		return
	}
	e.Generation = w.cfg.Generation
	e.Worker = w.id
	if err := w.recorder.Record(ctx, e); err != nil {
		w.log.WithError(err).Warnf("recording %s event", e.Kind)
	}
}

// Recorders fans every event out to each recorder in turn.
type Recorders []Recorder

func (rs Recorders) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, r := range rs {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
