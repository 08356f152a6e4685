package sources

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"survey/internal/etl"
)

// ── Directory Source ───────────────────────────────────────
// Walks a directory tree in lexical order and reads every response file
// that passes the filter.

type directorySource struct{}

func init() { etl.RegisterSource(&directorySource{}) }

func (s *directorySource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "directory",
		Label: "Directory Tree",
		ConfigFields: []etl.ConfigField{
			{Key: "directory", Label: "Directory", Type: "path", Required: true},
			{Key: "extensions", Label: "Extensions", Type: "list", Default: ".json", Help: `File extensions to read; "*" reads every file`},
			{Key: "include", Label: "Include", Type: "list", Help: "Keep only paths containing one of these substrings"},
			{Key: "tag", Label: "Tag", Type: "string", Help: "Keep only files whose name starts with this tag"},
		},
	}
}

func (s *directorySource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	root := cfg.String("directory")
	if root == "" {
		return failed(fmt.Errorf("directory is required"))
	}
	info, err := os.Stat(root)
	if err != nil {
		return failed(fmt.Errorf("directory: %w", err))
	}
	if !info.IsDir() {
		return failed(fmt.Errorf("directory: %s is not a directory", root))
	}

	exts := cfg.Strings("extensions")
	if len(exts) == 0 {
		exts = []string{".json"}
	}

	found, err := walk(root, exts)
	if err != nil {
		return failed(err)
	}
	keep := etl.FilterFromConfig(cfg)
	entries := make([]fileEntry, 0, len(found))
	for _, f := range found {
		// Unreadable entries are reported whatever the filter says; what
		// they hold is unknown.
		if f.err != nil || keep.Keep(f.path) {
			entries = append(entries, f)
		}
	}
	return streamEntries(ctx, entries, nil)
}

// walk lists the files under root with one of exts, in lexical order.
// Symlinks to files are followed; symlinks to directories are not.
// Entries that cannot be read come back with err set so the run reports them.
func walk(root string, exts []string) ([]fileEntry, error) {
	var found []fileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			found = append(found, fileEntry{path: path, err: fmt.Errorf("unreadable: %w", err)})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				if matchExt(path, exts) {
					found = append(found, fileEntry{path: path, err: fmt.Errorf("broken link: %w", err)})
				}
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}
		if matchExt(path, exts) {
			found = append(found, fileEntry{path: path})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return found, nil
}

func matchExt(path string, exts []string) bool {
	for _, e := range exts {
		if e != "*" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if e == "*" || strings.EqualFold(filepath.Ext(path), e) {
			return true
		}
	}
	return false
}
