package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// Config is the per-generation configuration of a worker. It replaces the
// hard-coded cache name and path lists of a service worker script; bumping
// Generation is the migration mechanism between manifest versions.
type Config struct {
	// Generation names the cache generation this worker owns.
	Generation string
	// Manifest lists root-relative paths warmed on install, in order.
	Manifest []string
	// Revalidate holds glob patterns of always-revalidate paths.
	Revalidate []string
	// OfflineDocument is served when a cache-first fetch fails.
	OfflineDocument string
	// SyncTag is the background sync tag the worker answers to.
	SyncTag string
	// SyncResource is refreshed when SyncTag fires.
	SyncResource string
	// WarmupConcurrency bounds parallel manifest fetches. Zero means 4.
	WarmupConcurrency int
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Generation) == "" {
		return fmt.Errorf("generation is required")
	}
	for _, p := range c.Manifest {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("manifest path %q must be root-relative", p)
		}
	}
	if c.OfflineDocument != "" && !strings.HasPrefix(c.OfflineDocument, "/") {
		return fmt.Errorf("offline document %q must be root-relative", c.OfflineDocument)
	}
	if c.SyncResource != "" && !strings.HasPrefix(c.SyncResource, "/") {
		return fmt.Errorf("sync resource %q must be root-relative", c.SyncResource)
	}
	if c.WarmupConcurrency < 0 {
		return fmt.Errorf("warmup concurrency must be non-negative")
	}
	return nil
}

func (c Config) concurrency() int {
	if c.WarmupConcurrency == 0 {
		return 4
	}
	return c.WarmupConcurrency
}

// RequestKey is the cache key of a request URL: escaped path plus query.
func RequestKey(u *url.URL) string {
	return (&url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery}).RequestURI()
}

// pathKey parses a root-relative path from configuration into its key.
func pathKey(p string) (string, error) {
	u, err := url.Parse(p)
	if err != nil {
		return "", fmt.Errorf("parsing path %q: %w", p, err)
	}
	return RequestKey(u), nil
}
