package proxy

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Class is the freshness class of a request.
type Class string

const (
	ClassCacheFirst Class = "cache-first"
	ClassRevalidate Class = "always-revalidate"
)

// Classifier decides the freshness class of request paths from a single
// allow-list of glob patterns. Patterns and paths are matched without their
// leading slash, so "**/timetable-data.json" matches at any depth.
type Classifier struct {
	patterns []string
}

// NewClassifier validates and stores the revalidate patterns.
func NewClassifier(patterns []string) (*Classifier, error) {
	c := &Classifier{}
	for _, p := range patterns {
		p = strings.TrimPrefix(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid revalidate pattern %q", p)
		}
		c.patterns = append(c.patterns, p)
	}
	return c, nil
}

// Classify returns the class of a URL path.
func (c *Classifier) Classify(path string) Class {
	name := strings.TrimPrefix(path, "/")
	for _, p := range c.patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return ClassRevalidate
		}
	}
	return ClassCacheFirst
}

// Patterns returns the normalized patterns.
func (c *Classifier) Patterns() []string {
	return append([]string(nil), c.patterns...)
}
