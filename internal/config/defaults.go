package config

import "time"

// DefaultManifest is the set of pages and data files warmed on install.
var DefaultManifest = []string{
	"/index.html",
	"/timer.html",
	"/styles.css",
	"/data.json",
	"/manifest.json",
}

// DefaultRevalidate lists the frequently-updated JSON resources that are
// always fetched from the network first.
var DefaultRevalidate = []string{
	"**/timetable-data.json",
	"**/data.json",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            8080,
		Origin:          "http://localhost:8000",
		Generation:      "tcas70-v3",
		Manifest:        append([]string(nil), DefaultManifest...),
		Revalidate:      append([]string(nil), DefaultRevalidate...),
		OfflineDocument: "/index.html",
		SyncTag:         "sync-data",
		SyncResource:    "/data.json",
		Storage:         StorageSQLite,
		DataDir:         ".swcache",
		LogLevel:        "info",
		RequestTimeout:  30 * time.Second,
		Warmup: WarmupConfig{
			Concurrency: 4,
		},
		Sync: SyncConfig{
			MaxRetries:      3,
			InitialInterval: 5 * time.Second,
			MaxInterval:     5 * time.Minute,
		},
	}
}
