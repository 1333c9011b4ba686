package config

import "time"

// StorageType selects the cache storage backend.
type StorageType string

const (
	StorageSQLite StorageType = "sqlite"
	StorageMemory StorageType = "memory"
)

// Config is the top-level swcache configuration, corresponding to .swcache.yml.
type Config struct {
	Port            int           `yaml:"port" koanf:"port"`
	Origin          string        `yaml:"origin" koanf:"origin"`
	Generation      string        `yaml:"generation" koanf:"generation"`
	Manifest        []string      `yaml:"manifest" koanf:"manifest"`
	Revalidate      []string      `yaml:"revalidate" koanf:"revalidate"`
	OfflineDocument string        `yaml:"offline_document" koanf:"offline_document"`
	SyncTag         string        `yaml:"sync_tag" koanf:"sync_tag"`
	SyncResource    string        `yaml:"sync_resource" koanf:"sync_resource"`
	Storage         StorageType   `yaml:"storage" koanf:"storage"`
	DataDir         string        `yaml:"data_dir" koanf:"data_dir"`
	LogLevel        string        `yaml:"log_level" koanf:"log_level"`
	AllowAllOrigins bool          `yaml:"allow_all_origins" koanf:"allow_all_origins"`
	RequestTimeout  time.Duration `yaml:"request_timeout" koanf:"request_timeout"`
	Warmup          WarmupConfig  `yaml:"warmup" koanf:"warmup"`
	Sync            SyncConfig    `yaml:"sync" koanf:"sync"`
	Webhooks        []Webhook     `yaml:"webhooks,omitempty" koanf:"webhooks"`
}

// WarmupConfig holds manifest warm-up settings.
type WarmupConfig struct {
	Concurrency int `yaml:"concurrency" koanf:"concurrency"`
}

// SyncConfig holds background sync retry settings.
type SyncConfig struct {
	MaxRetries      uint64        `yaml:"max_retries" koanf:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval" koanf:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" koanf:"max_interval"`
}

// Webhook subscribes an endpoint to cache lifecycle notifications.
type Webhook struct {
	URL         string `yaml:"url" koanf:"url"`
	MinSeverity string `yaml:"min_severity,omitempty" koanf:"min_severity"`
}
