// Package walker scans a static site directory for assets worth warming
// into the cache and turns them into manifest entries.
package walker

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/sha256-simd"
)

// DefaultMaxFileSize is the largest asset proposed for warm-up (5 MB).
const DefaultMaxFileSize int64 = 5 << 20

// Asset holds metadata about a single file discovered during traversal.
type Asset struct {
	Path    string // Absolute path on disk.
	URLPath string // Root-relative request path, e.g. /css/site.css.
	Size    int64  // File size in bytes.
	Kind    Kind   // Asset kind derived from the file name.
	Digest  string // SHA-256 hex digest of the file content.
}

// Config controls the behaviour of the Walk function.
type Config struct {
	RootDir     string   // Root directory of the site.
	Include     []string // Glob patterns; only matching files are included.
	Exclude     []string // Glob patterns; matching files are excluded.
	MaxFileSize int64    // Files larger than this are skipped (0 = use default).
}

// Walk traverses the site rooted at config.RootDir and returns every asset
// of a known kind that passes filtering, ordered by URL path. It honours
// .gitignore files and skips hidden and tooling directories.
func Walk(config Config) ([]Asset, error) {
	root, err := filepath.Abs(config.RootDir)
	if err != nil {
		return nil, fmt.Errorf("walker: resolve root: %w", err)
	}

	maxSize := config.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	// Load .gitignore patterns from root if present.
	gitignorePatterns := loadGitignore(filepath.Join(root, ".gitignore"))

	var assets []Asset

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Skip entries we cannot read instead of aborting.
			return nil
		}

		name := d.Name()

		if d.IsDir() {
			if path != root && shouldExcludeDir(name) {
				return filepath.SkipDir
			}
			return nil
		}

		// Only process regular files.
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		if matchesGitignore(relPath, gitignorePatterns) {
			return nil
		}

		kind := DetectKind(name)
		if kind == KindUnknown {
			return nil
		}

		// Apply user-defined include/exclude filters.
		if !MatchesInclude(relPath, config.Include) {
			return nil
		}
		if MatchesExclude(relPath, config.Exclude) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxSize {
			return nil
		}

		digest, err := hashFile(path)
		if err != nil {
			return nil
		}

		assets = append(assets, Asset{
			Path:    path,
			URLPath: "/" + filepath.ToSlash(relPath),
			Size:    info.Size(),
			Kind:    kind,
			Digest:  digest,
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("walker: traversal: %w", err)
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].URLPath < assets[j].URLPath })
	return assets, nil
}

// Manifest returns the URL paths of assets with documents first, so the
// offline document is warmed before bulky media.
func Manifest(assets []Asset) []string {
	ordered := make([]Asset, len(assets))
	copy(ordered, assets)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kind.priority() < ordered[j].Kind.priority()
	})

	out := make([]string, 0, len(ordered))
	for _, a := range ordered {
		out = append(out, a.URLPath)
	}
	return out
}

// hashFile computes the SHA-256 digest of the given file.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// loadGitignore reads a .gitignore file and returns its non-empty,
// non-comment lines as patterns.
func loadGitignore(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// matchesGitignore checks if a relative path matches any gitignore pattern.
// Patterns without a slash match any path component; a trailing slash
// restricts the pattern to directories.
func matchesGitignore(relPath string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}

	normalized := filepath.ToSlash(relPath)
	parts := strings.Split(normalized, "/")

	for _, pattern := range patterns {
		dirOnly := strings.HasSuffix(pattern, "/")
		pattern = strings.Trim(pattern, "/")

		if strings.Contains(pattern, "/") {
			if matchesAny(normalized, []string{pattern, pattern + "/**"}) {
				return true
			}
			continue
		}

		// Directories are every component but the last.
		candidates := parts
		if dirOnly {
			candidates = parts[:len(parts)-1]
		}
		for _, part := range candidates {
			if matched, _ := filepath.Match(pattern, part); matched {
				return true
			}
		}
	}
	return false
}
