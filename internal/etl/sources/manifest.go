package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"survey/internal/domain"
	"survey/internal/etl"
)

// ── Manifest Source ────────────────────────────────────────
// Reads the response files listed by one or more index manifests. The
// manifest supplies the respondent and mode of each file.

type manifestSource struct{}

func init() { etl.RegisterSource(&manifestSource{}) }

func (s *manifestSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "manifest",
		Label: "Index Manifest",
		ConfigFields: []etl.ConfigField{
			{Key: "manifests", Label: "Manifests", Type: "list", Required: true, Help: "Index manifest files; entries of later manifests replace earlier ones per client"},
			{Key: "directory", Label: "Directory", Type: "path", Help: "Directory holding the response files (default: the first manifest's directory)"},
			{Key: "include", Label: "Include", Type: "list", Help: "Keep only paths containing one of these substrings"},
			{Key: "tag", Label: "Tag", Type: "string", Help: "Keep only files whose name starts with this tag"},
		},
	}
}

func (s *manifestSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	paths := cfg.Strings("manifests")
	if len(paths) == 0 {
		paths = cfg.Strings("manifest")
	}
	if len(paths) == 0 {
		return failed(fmt.Errorf("manifests is required"))
	}

	m, err := loadManifests(paths)
	if err != nil {
		return failed(err)
	}

	dir := cfg.String("directory")
	if dir == "" {
		dir = filepath.Dir(paths[0])
	}

	filter := etl.FilterFromConfig(cfg)
	var (
		files []string
		index []int
	)
	for i, f := range m.Files {
		p := responsePath(dir, f)
		if filter.Keep(p) {
			files = append(files, p)
			index = append(index, i)
		}
	}

	return streamFiles(ctx, files, func(i int, rec *etl.Record) {
		rec.Client = m.Clients[index[i]]
		rec.Mode = m.Modes[index[i]]
	})
}

func loadManifests(paths []string) (*domain.Manifest, error) {
	ms := make([]*domain.Manifest, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		m, err := domain.ParseManifest(data)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", p, err)
		}
		ms = append(ms, m)
	}
	return domain.MergeManifests(ms...)
}

// responsePath resolves a manifest entry. Entries without an extension
// name a .json file.
func responsePath(dir, file string) string {
	if filepath.Ext(file) == "" {
		file += ".json"
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}
