// Package dashboard serves an operator page for the cache: the active
// generation, what each generation holds and the recent lifecycle journal.
// The page connects as a client over the websocket and can force a refresh.
package dashboard

import (
	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/swcache/internal/audit"
	"github.com/ziadkadry99/swcache/internal/proxy"
)

// Dashboard provides the cache status page.
type Dashboard struct {
	reg     *proxy.Registration
	journal *audit.Store
}

// New creates a new Dashboard. journal may be nil.
func New(reg *proxy.Registration, journal *audit.Store) *Dashboard {
	return &Dashboard{reg: reg, journal: journal}
}

// RegisterRoutes mounts all dashboard routes onto the given router.
func (d *Dashboard) RegisterRoutes(r chi.Router) {
	r.Get("/_swcache/", d.ServeIndex)
	r.Get("/_swcache/dashboard/stats", d.handleStats)
	r.Get("/_swcache/dashboard/recent", d.handleRecent)
}
