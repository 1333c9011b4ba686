package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides. A double underscore selects a
// nested key: SWCACHE_WARMUP__CONCURRENCY -> warmup.concurrency.
const EnvPrefix = "SWCACHE_"

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (SWCACHE_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validStorage is the set of recognized storage backends.
var validStorage = map[StorageType]bool{
	StorageSQLite: true,
	StorageMemory: true,
}

var validSeverity = map[string]bool{
	"":         true,
	"info":     true,
	"warning":  true,
	"critical": true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}

	if c.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("origin %q must be an absolute URL", c.Origin)
	}

	if strings.TrimSpace(c.Generation) == "" {
		return fmt.Errorf("generation is required")
	}

	for _, p := range c.Manifest {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("manifest path %q must start with /", p)
		}
	}
	for _, p := range c.Revalidate {
		if !doublestar.ValidatePattern(strings.TrimPrefix(p, "/")) {
			return fmt.Errorf("invalid revalidate pattern %q", p)
		}
	}
	if c.OfflineDocument != "" && !strings.HasPrefix(c.OfflineDocument, "/") {
		return fmt.Errorf("offline_document %q must start with /", c.OfflineDocument)
	}
	if c.SyncResource != "" && !strings.HasPrefix(c.SyncResource, "/") {
		return fmt.Errorf("sync_resource %q must start with /", c.SyncResource)
	}

	if !validStorage[c.Storage] {
		return fmt.Errorf("invalid storage %q: must be one of sqlite, memory", c.Storage)
	}
	if c.Storage == StorageSQLite && c.DataDir == "" {
		return fmt.Errorf("data_dir is required for sqlite storage")
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be non-negative")
	}
	if c.Warmup.Concurrency < 0 {
		return fmt.Errorf("warmup.concurrency must be non-negative")
	}
	if c.Sync.InitialInterval < 0 || c.Sync.MaxInterval < 0 {
		return fmt.Errorf("sync intervals must be non-negative")
	}

	for _, h := range c.Webhooks {
		u, err := url.Parse(h.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook url %q must be an http(s) URL", h.URL)
		}
		if !validSeverity[h.MinSeverity] {
			return fmt.Errorf("invalid webhook min_severity %q: must be one of info, warning, critical", h.MinSeverity)
		}
	}

	return nil
}
