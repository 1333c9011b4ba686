package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/ziadkadry99/swcache/internal/walker"
)

// detectManifest proposes manifest entries from the static site found in
// dir, falling back to DefaultManifest when it holds no assets.
func detectManifest(dir string) []string {
	assets, err := walker.Walk(walker.Config{RootDir: dir})
	if err != nil || len(assets) == 0 {
		return DefaultManifest
	}
	return walker.Manifest(assets)
}

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to path.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to swcache! Let's configure the offline cache proxy.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Origin.
	originPrompt := promptui.Prompt{
		Label:   "Origin URL of the static site",
		Default: cfg.Origin,
		Validate: func(s string) error {
			u, err := url.Parse(s)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("must be an absolute URL")
			}
			return nil
		},
	}
	origin, err := originPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	cfg.Origin = origin

	// 2. Cache generation.
	genPrompt := promptui.Prompt{
		Label:   "Cache generation name (bump to migrate)",
		Default: cfg.Generation,
	}
	generation, err := genPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("generation: %w", err)
	}
	cfg.Generation = generation

	// 3. Listen port.
	portPrompt := promptui.Prompt{
		Label:   "Listen port",
		Default: strconv.Itoa(cfg.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("must be a port number")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Port, _ = strconv.Atoi(portStr)

	// 4. Storage backend.
	storagePrompt := promptui.Select{
		Label: "Cache storage",
		Items: []string{
			"sqlite (persists across restarts)",
			"memory (lost on restart)",
		},
	}
	storageIdx, _, err := storagePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("storage selection: %w", err)
	}
	cfg.Storage = []StorageType{StorageSQLite, StorageMemory}[storageIdx]

	// 5. Manifest.
	manifestPrompt := promptui.Prompt{
		Label:   "Manifest paths warmed on install (comma-separated)",
		Default: strings.Join(detectManifest("."), ","),
	}
	manifestStr, err := manifestPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	cfg.Manifest = splitAndTrim(manifestStr)

	// 6. Always-revalidate patterns.
	revalidatePrompt := promptui.Prompt{
		Label:   "Always-revalidate patterns (comma-separated globs)",
		Default: strings.Join(cfg.Revalidate, ","),
	}
	revalidateStr, err := revalidatePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("revalidate patterns: %w", err)
	}
	cfg.Revalidate = splitAndTrim(revalidateStr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}
