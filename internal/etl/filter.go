package etl

import (
	"path/filepath"
	"strings"
)

// Filter selects which record locations take part in a run.
//
// Include keeps paths containing at least one of its substrings; Tag keeps
// paths whose base name starts with it. An empty selector keeps everything.
type Filter struct {
	Include []string
	Tag     string
}

// FilterFromConfig reads the "include" and "tag" keys of a source config.
func FilterFromConfig(cfg SourceConfig) Filter {
	return Filter{Include: cfg.Strings("include"), Tag: cfg.String("tag")}
}

// Keep reports whether path passes both selectors.
func (f Filter) Keep(path string) bool {
	if f.Tag != "" && !strings.HasPrefix(filepath.Base(path), f.Tag) {
		return false
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, inc := range f.Include {
		if strings.Contains(path, inc) {
			return true
		}
	}
	return false
}

// Apply returns the paths that pass, in their original order.
func (f Filter) Apply(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if f.Keep(p) {
			out = append(out, p)
		}
	}
	return out
}
