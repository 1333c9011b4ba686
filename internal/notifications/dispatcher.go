package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ziadkadry99/swcache/internal/proxy"
)

// Dispatcher turns lifecycle events into notifications and delivers them to
// webhook subscribers.
type Dispatcher struct {
	subscribers []Subscriber
	client      *http.Client
	timeout     time.Duration
	wg          sync.WaitGroup
}

// deliveryTimeout bounds one Record's delivery to all subscribers.
const deliveryTimeout = 5 * time.Second

// NewDispatcher creates a Dispatcher delivering to subscribers.
func NewDispatcher(subscribers []Subscriber) *Dispatcher {
	return &Dispatcher{
		subscribers: subscribers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		timeout: deliveryTimeout,
	}
}

// Record implements proxy.Recorder. Delivery happens in the background so
// a slow subscriber never holds up the lifecycle step; failures are logged.
func (d *Dispatcher) Record(ctx context.Context, e proxy.Event) error {
	n := FromEvent(e)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.Dispatch(dctx, n); err != nil {
			log.WithError(err).WithField("type", n.Type).Warn("notifications: webhook delivery failed")
		}
	}()
	return nil
}

// Wait blocks until every background delivery has finished. It is safe to
// call on a nil Dispatcher.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Dispatch sends n to every subscriber whose filter it passes. Delivery
// failures are collected; one failing subscriber does not stop the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}

	var errs []error
	for _, sub := range d.subscribers {
		if !severityMatches(n.Severity, sub.SeverityFilter) {
			continue
		}
		if err := d.SendWebhook(ctx, sub.URL, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.URL, err))
		}
	}
	return errors.Join(errs...)
}

// FromEvent builds the notification for a lifecycle event.
func FromEvent(e proxy.Event) Notification {
	n := Notification{
		Type:       string(e.Kind),
		Severity:   SeverityInfo,
		Title:      fmt.Sprintf("Cache %s: %s", e.Generation, e.Kind),
		Message:    e.Summary,
		Generation: e.Generation,
		Paths:      e.Paths,
	}
	switch e.Kind {
	case proxy.EventRefreshFailed:
		n.Severity = SeverityCritical
	case proxy.EventSyncFailed:
		n.Severity = SeverityWarning
	default:
		if e.Err != nil {
			n.Severity = SeverityWarning
		}
	}
	if e.Err != nil {
		n.Message = fmt.Sprintf("%s: %v", e.Summary, e.Err)
	}
	return n
}

// SendWebhook POSTs payload to the given URL.
func (d *Dispatcher) SendWebhook(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ValidSeverity reports whether s names a severity. Empty means info.
func ValidSeverity(s Severity) bool {
	_, ok := severityLevels[s]
	return ok || s == ""
}

var severityLevels = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// severityMatches returns true if the notification severity meets or exceeds the filter threshold.
func severityMatches(actual, filter Severity) bool {
	return severityLevels[actual] >= severityLevels[filter]
}
