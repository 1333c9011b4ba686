// Package syncmgr schedules background sync triggers and retries them
// with exponential backoff until they succeed or run out of attempts.
package syncmgr

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// SyncFunc runs one attempt of a sync tag.
type SyncFunc func(ctx context.Context, tag string) error

// Options tune the retry schedule.
type Options struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultOptions mirror a browser's small number of sync retries.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      3,
		InitialInterval: 5 * time.Second,
		MaxInterval:     5 * time.Minute,
	}
}

// Outcome records the result of a registered sync.
type Outcome struct {
	Tag      string
	Attempts int
	Err      error
}

// Manager runs registered sync tags in the background. Registering a tag
// that is already pending is a no-op.
type Manager struct {
	run  SyncFunc
	opts Options
	ctx  context.Context

	mu       sync.Mutex
	pending  map[string]bool
	outcomes chan Outcome
	wg       sync.WaitGroup
}

// New creates a Manager whose syncs stop when ctx is cancelled.
func New(ctx context.Context, run SyncFunc, opts Options) *Manager {
	return &Manager{
		run:      run,
		opts:     opts,
		ctx:      ctx,
		pending:  make(map[string]bool),
		outcomes: make(chan Outcome, 16),
	}
}

// Outcomes delivers finished syncs. Outcomes are dropped when nobody reads.
func (m *Manager) Outcomes() <-chan Outcome { return m.outcomes }

// Register schedules tag. It reports false when the tag is already pending.
func (m *Manager) Register(tag string) bool {
	m.mu.Lock()
	if m.pending[tag] {
		m.mu.Unlock()
		return false
	}
	m.pending[tag] = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runTag(tag)
	return true
}

// Pending returns whether tag is scheduled or running.
func (m *Manager) Pending(tag string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[tag]
}

// Wait blocks until every registered sync has finished.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) runTag(tag string) {
	defer m.wg.Done()
	logger := log.WithField("tag", tag)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.opts.InitialInterval
	eb.MaxInterval = m.opts.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, m.opts.MaxRetries), m.ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return m.run(m.ctx, tag)
	}, policy, func(err error, next time.Duration) {
		logger.WithError(err).Warnf("sync failed, retrying in %s", next)
	})
	if err != nil {
		logger.WithError(err).WithField("attempts", attempts).Error("sync gave up")
	} else {
		logger.WithField("attempts", attempts).Debug("sync done")
	}

	m.mu.Lock()
	delete(m.pending, tag)
	m.mu.Unlock()

	select {
	case m.outcomes <- Outcome{Tag: tag, Attempts: attempts, Err: err}:
	default:
	}
}
