package provider

import (
	"fmt"
	"path"

	"github.com/BadgerOps/assetsync/internal/safety"
)

// NameFilter accepts asset names matching at least one glob pattern.
type NameFilter struct {
	patterns []string
	reserved []string
}

// NewNameFilter validates the glob patterns and builds a filter.
// An empty pattern list accepts nothing.
func NewNameFilter(patterns []string) (*NameFilter, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
	}
	cp := make([]string, len(patterns))
	copy(cp, patterns)
	return &NameFilter{patterns: cp}, nil
}

// Match reports whether name is an acceptable, cache-safe asset name.
func (f *NameFilter) Match(name string) bool {
	if f == nil {
		return false
	}
	if safety.CheckAssetName(name, f.reserved...) != nil {
		return false
	}
	for _, p := range f.patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Reserve excludes names the cache uses for its own files, whatever the
// patterns say. It must be called before the filter is shared.
func (f *NameFilter) Reserve(names ...string) {
	f.reserved = append(f.reserved, names...)
}

// Patterns returns a copy of the configured patterns
func (f *NameFilter) Patterns() []string {
	cp := make([]string, len(f.patterns))
	copy(cp, f.patterns)
	return cp
}
