package sources

import (
	"context"
	"os"

	"survey/internal/domain"
	"survey/internal/etl"
)

// ── Response Files Source ──────────────────────────────────
// Reads an explicit list of response files, one respondent per file.

type filesSource struct{}

func init() { etl.RegisterSource(&filesSource{}) }

func (s *filesSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "files",
		Label: "Response Files",
		ConfigFields: []etl.ConfigField{
			{Key: "files", Label: "Files", Type: "list", Required: true, Help: "Paths of JSON response files"},
			{Key: "include", Label: "Include", Type: "list", Help: "Keep only paths containing one of these substrings"},
			{Key: "tag", Label: "Tag", Type: "string", Help: "Keep only files whose name starts with this tag"},
		},
	}
}

func (s *filesSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	paths := etl.FilterFromConfig(cfg).Apply(cfg.Strings("files"))
	return streamFiles(ctx, paths, nil)
}

// ── Helpers ────────────────────────────────────────────────

// readResponseFile loads one response document. Failures come back as a
// record carrying a MalformedRecordError.
func readResponseFile(path string) etl.Record {
	data, err := os.ReadFile(path)
	if err != nil {
		return etl.Failed(path, err)
	}
	rec, err := domain.ParseRawRecord(data)
	if err != nil {
		return etl.Failed(path, err)
	}
	return etl.Record{Location: path, Data: rec}
}

// fileEntry is a response file to read, or one that could not be listed.
type fileEntry struct {
	path string
	err  error
}

// streamFiles reads paths in order. decorate, if set, may attach identity
// to the i-th record before it is sent.
func streamFiles(ctx context.Context, paths []string, decorate func(i int, rec *etl.Record)) (<-chan etl.Record, <-chan error) {
	entries := make([]fileEntry, len(paths))
	for i, p := range paths {
		entries[i] = fileEntry{path: p}
	}
	return streamEntries(ctx, entries, decorate)
}

// streamEntries reads each entry in order. An entry carrying an error is
// sent as a failed record without touching the file.
func streamEntries(ctx context.Context, entries []fileEntry, decorate func(i int, rec *etl.Record)) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		for i, e := range entries {
			var rec etl.Record
			if e.err != nil {
				rec = etl.Failed(e.path, e.err)
			} else {
				rec = readResponseFile(e.path)
			}
			if decorate != nil {
				decorate(i, &rec)
			}
			if !send(ctx, out, rec) {
				return
			}
		}
	}()

	return out, errCh
}

func send(ctx context.Context, out chan<- etl.Record, rec etl.Record) bool {
	select {
	case out <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}

// failed returns channels that carry only err.
func failed(err error) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record)
	errCh := make(chan error, 1)
	errCh <- err
	close(out)
	close(errCh)
	return out, errCh
}
