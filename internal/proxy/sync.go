package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ziadkadry99/swcache/internal/network"
)

// Sync handles a background sync trigger. The sync tag refetches the sync
// resource, checks that it is JSON and overwrites its cache entry. Other
// tags are ignored. Sync never retries; a returned error asks the scheduler
// to try again later.
func (w *Worker) Sync(ctx context.Context, tag string) error {
	if tag != w.cfg.SyncTag || w.syncKey == "" {
		w.log.WithField("tag", tag).Debug("sync: ignoring tag")
		return nil
	}
	if err := w.syncResource(ctx, tag); err != nil {
		w.record(ctx, Event{Kind: EventSyncFailed, Summary: "sync " + tag, Paths: []string{w.cfg.SyncResource}, Err: err})
		return err
	}
	w.record(ctx, Event{Kind: EventSynced, Summary: "sync " + tag, Paths: []string{w.cfg.SyncResource}})
	return nil
}

func (w *Worker) syncResource(ctx context.Context, tag string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.SyncResource, nil)
	if err != nil {
		return fmt.Errorf("building sync request: %w", err)
	}
	resp, err := w.fetcher.Fetch(ctx, req, network.FetchOptions{})
	if err != nil {
		return fmt.Errorf("sync %s: %w", w.cfg.SyncResource, err)
	}
	if !resp.OK() {
		return fmt.Errorf("sync %s: unexpected status %d", w.cfg.SyncResource, resp.Status)
	}

	var data any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return fmt.Errorf("sync %s: decoding json: %w", w.cfg.SyncResource, err)
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sync %s: encoding json: %w", w.cfg.SyncResource, err)
	}

	stored := &network.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
		Type:   network.TypeBasic,
	}
	if err := w.put(ctx, w.syncKey, stored); err != nil {
		return err
	}
	w.log.WithField("tag", tag).Info("sync: refreshed " + w.cfg.SyncResource)
	return nil
}
