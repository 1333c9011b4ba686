package proxy

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Message types exchanged with pages.
const (
	MessageForceRefresh       = "FORCE_REFRESH"
	MessageForceRefreshDone   = "FORCE_REFRESH_DONE"
	MessageForceRefreshFailed = "FORCE_REFRESH_FAILED"
)

// Message is an incoming page message.
type Message struct {
	Type string `json:"type"`
}

// Reply acknowledges a message.
type Reply struct {
	Type       string `json:"type"`
	Error      string `json:"error,omitempty"`
	Generation string `json:"generation,omitempty"`
	Stored     int    `json:"stored,omitempty"`
}

// Port is a direct reply channel supplied with a message.
type Port interface {
	PostMessage(msg any) error
}

// PortFunc adapts a function to Port.
type PortFunc func(msg any) error

func (f PortFunc) PostMessage(msg any) error { return f(msg) }

// HandleMessage processes a raw page message and acknowledges it on port,
// or by broadcast to every window client when port is nil. Malformed or
// unknown messages are acknowledged with a failure. The returned error only
// reports a failed delivery of the reply.
func (w *Worker) HandleMessage(ctx context.Context, data []byte, port Port) (Reply, error) {
	var reply Reply

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		reply = Reply{Type: MessageForceRefreshFailed, Error: fmt.Sprintf("malformed message: %v", err)}
	} else {
		switch msg.Type {
		case MessageForceRefresh:
			reply = w.forceRefreshReply(ctx)
		default:
			reply = Reply{Type: MessageForceRefreshFailed, Error: fmt.Sprintf("unknown message type %q", msg.Type)}
		}
	}

	if port != nil {
		if err := port.PostMessage(reply); err != nil {
			w.log.WithError(err).Warn("message: reply not delivered")
			return reply, fmt.Errorf("posting reply: %w", err)
		}
		return reply, nil
	}
	n := w.clients.Broadcast(reply)
	w.log.WithField("clients", n).Debugf("message: broadcast %s", reply.Type)
	return reply, nil
}

func (w *Worker) forceRefreshReply(ctx context.Context) Reply {
	report, err := w.ForceRefresh(ctx)
	if err != nil {
		w.log.WithError(err).Warn("force refresh failed")
		return Reply{Type: MessageForceRefreshFailed, Error: err.Error(), Generation: w.cfg.Generation}
	}
	return Reply{Type: MessageForceRefreshDone, Generation: w.cfg.Generation, Stored: len(report.Stored())}
}

// ForceRefresh deletes every cache generation, re-creates the worker's own
// and reruns the manifest warm-up. It fails when storage cannot be cleared
// or reopened, or when a non-empty manifest produced no cached entry.
func (w *Worker) ForceRefresh(ctx context.Context) (*InstallReport, error) {
	report, err := w.forceRefresh(ctx)
	if err != nil {
		w.record(ctx, Event{Kind: EventRefreshFailed, Summary: "force refresh failed", Err: err})
		return report, err
	}
	w.record(ctx, Event{
		Kind:    EventRefreshed,
		Summary: fmt.Sprintf("%d stored, %d failed", len(report.Stored()), len(report.Failed())),
		Paths:   report.Stored(),
	})
	return report, nil
}

func (w *Worker) forceRefresh(ctx context.Context) (*InstallReport, error) {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}
	for _, name := range names {
		if _, err := w.storage.Delete(ctx, name); err != nil {
			return nil, fmt.Errorf("deleting generation %s: %w", name, err)
		}
	}

	report := w.warmup(ctx)
	if report.OpenErr != nil {
		return report, fmt.Errorf("reopening generation: %w", report.OpenErr)
	}
	if len(w.cfg.Manifest) > 0 && len(report.Stored()) == 0 {
		return report, fmt.Errorf("no manifest entry could be cached")
	}
	w.log.WithFields(log.Fields{
		"deleted": names,
		"stored":  len(report.Stored()),
	}).Info("force refresh complete")
	return report, nil
}
