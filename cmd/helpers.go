package cmd

import (
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/ziadkadry99/swcache/internal/audit"
	"github.com/ziadkadry99/swcache/internal/cachestore"
	"github.com/ziadkadry99/swcache/internal/config"
	"github.com/ziadkadry99/swcache/internal/db"
	"github.com/ziadkadry99/swcache/internal/network"
	"github.com/ziadkadry99/swcache/internal/notifications"
	"github.com/ziadkadry99/swcache/internal/proxy"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `swcache init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	if !verbose {
		level, _ := log.ParseLevel(cfg.LogLevel)
		log.SetLevel(level)
	}
	return cfg, nil
}

// openStorage opens the configured cache storage together with the
// database holding the event journal. With memory storage the journal
// lives in an in-memory database. The caller closes the database.
func openStorage(cfg *config.Config) (cachestore.Storage, *db.DB, error) {
	if cfg.Storage == config.StorageMemory {
		database, err := db.OpenMemory()
		if err != nil {
			return nil, nil, fmt.Errorf("opening journal: %w", err)
		}
		return cachestore.NewMemoryStorage(), database, nil
	}

	dbPath := filepath.Join(cfg.DataDir, "swcache.db")
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.WithField("path", dbPath).Debug("opened cache database")
	return cachestore.NewSQLStorage(database), database, nil
}

// createFetcherFromConfig creates the origin fetcher.
func createFetcherFromConfig(cfg *config.Config) (*network.HTTPFetcher, error) {
	return network.NewHTTPFetcher(cfg.Origin, cfg.RequestTimeout)
}

// workerConfig maps the file configuration onto a worker generation.
func workerConfig(cfg *config.Config) proxy.Config {
	return proxy.Config{
		Generation:        cfg.Generation,
		Manifest:          cfg.Manifest,
		Revalidate:        cfg.Revalidate,
		OfflineDocument:   cfg.OfflineDocument,
		SyncTag:           cfg.SyncTag,
		SyncResource:      cfg.SyncResource,
		WarmupConcurrency: cfg.Warmup.Concurrency,
	}
}

// serverURL is the base URL of a locally running swcache server.
func serverURL(cfg *config.Config) string {
	if serverAddr != "" {
		return serverAddr
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Port)
}

// lifecycleRecorder journals worker events to database and forwards them to
// any configured webhooks. The returned dispatcher is nil without webhooks;
// call its Wait before exiting so queued deliveries finish.
func lifecycleRecorder(cfg *config.Config, database *db.DB) (proxy.Recorder, *notifications.Dispatcher) {
	recorders := proxy.Recorders{audit.NewStore(database)}
	if len(cfg.Webhooks) == 0 {
		return recorders, nil
	}
	subs := make([]notifications.Subscriber, 0, len(cfg.Webhooks))
	for _, h := range cfg.Webhooks {
		subs = append(subs, notifications.Subscriber{
			URL:            h.URL,
			SeverityFilter: notifications.Severity(h.MinSeverity),
		})
	}
	dispatcher := notifications.NewDispatcher(subs)
	return append(recorders, dispatcher), dispatcher
}
