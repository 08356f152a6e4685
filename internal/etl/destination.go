package etl

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ── Destination ────────────────────────────────────────────
// Outputs is the set of three artifacts written in lock-step:
// <name>.md (narrative), <name>.csv (tabular), <name>.json (structured).
//
// In atomic mode each artifact is written to <file>.tmp and renamed into
// place by Close. Without it a failed run leaves a valid prefix of records
// in the md and csv files and an unterminated json array.

// Artifact extensions.
const (
	ExtMarkdown = ".md"
	ExtCSV      = ".csv"
	ExtJSON     = ".json"
	ExtHTML     = ".html"
	ExtBundle   = ".tar.gz"
)

type artifact struct {
	final string
	path  string
	f     *os.File
}

func (a *artifact) write(b []byte) error {
	if _, err := a.f.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", a.final, err)
	}
	return nil
}

// chunk is one record rendered for all three artifacts.
type chunk struct {
	narrative []byte
	row       []byte
	element   []byte
}

// Outputs writes the narrative, tabular and structured artifacts.
type Outputs struct {
	name     string
	atomic   bool
	md       *artifact
	csv      *artifact
	json     *artifact
	header   bool
	elements int
	done     bool
}

// OpenOutputs creates the three artifacts for name (a path prefix).
func OpenOutputs(name string, atomic bool) (*Outputs, error) {
	if name == "" {
		return nil, errors.New("output name is required")
	}
	if dir := filepath.Dir(name); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	o := &Outputs{name: name, atomic: atomic}
	var err error
	for _, slot := range []struct {
		dst **artifact
		ext string
	}{{&o.md, ExtMarkdown}, {&o.csv, ExtCSV}, {&o.json, ExtJSON}} {
		if *slot.dst, err = o.create(name + slot.ext); err != nil {
			o.Abort()
			return nil, err
		}
	}
	if err := o.json.write([]byte("[\n")); err != nil {
		o.Abort()
		return nil, err
	}
	return o, nil
}

func (o *Outputs) create(final string) (*artifact, error) {
	path := final
	if o.atomic {
		path += ".tmp"
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	return &artifact{final: final, path: path, f: f}, nil
}

// Name returns the output prefix.
func (o *Outputs) Name() string { return o.name }

// Paths returns the final artifact paths in md, csv, json order.
func (o *Outputs) Paths() []string {
	return []string{o.name + ExtMarkdown, o.name + ExtCSV, o.name + ExtJSON}
}

// writeTitle starts the narrative document with a level-one heading.
func (o *Outputs) writeTitle(title string) error {
	if title == "" {
		return nil
	}
	return o.md.write([]byte("# " + title + "\n\n"))
}

// writeHeader writes the tabular header. It may only be called once,
// before any record.
func (o *Outputs) writeHeader(columns []string) error {
	if o.header || o.elements > 0 {
		return errors.New("header already written")
	}
	row, err := renderRow(columns)
	if err != nil {
		return err
	}
	o.header = true
	return o.csv.write(row)
}

// writeChunk appends one fully rendered record to every artifact.
func (o *Outputs) writeChunk(c chunk) error {
	if !o.header {
		return errors.New("record written before header")
	}
	if err := o.md.write(c.narrative); err != nil {
		return err
	}
	if err := o.csv.write(c.row); err != nil {
		return err
	}
	sep := []byte(",\n")
	if o.elements == 0 {
		sep = nil
	}
	if err := o.json.write(append(sep, c.element...)); err != nil {
		return err
	}
	o.elements++
	return nil
}

// Close terminates the json array, closes every artifact and, in atomic
// mode, renames them into place.
func (o *Outputs) Close() error {
	if o.done {
		return nil
	}
	o.done = true

	tail := "]\n"
	if o.elements > 0 {
		tail = "\n]\n"
	}
	werr := o.json.write([]byte(tail))

	var errs []error
	if werr != nil {
		errs = append(errs, werr)
	}
	for _, a := range o.artifacts() {
		if err := a.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", a.final, err))
		}
	}
	if len(errs) > 0 {
		if o.atomic {
			o.removeTemps()
		}
		return errors.Join(errs...)
	}

	if o.atomic {
		for _, a := range o.artifacts() {
			if err := os.Rename(a.path, a.final); err != nil {
				o.removeTemps()
				return fmt.Errorf("rename %s: %w", a.final, err)
			}
		}
	}
	return nil
}

// Abort closes every artifact without finishing it. Atomic temp files are
// removed; otherwise the partial files stay on disk.
func (o *Outputs) Abort() {
	if o.done {
		return
	}
	o.done = true
	for _, a := range o.artifacts() {
		_ = a.f.Close()
	}
	if o.atomic {
		o.removeTemps()
	}
}

func (o *Outputs) removeTemps() {
	for _, a := range o.artifacts() {
		_ = os.Remove(a.path)
	}
}

func (o *Outputs) artifacts() []*artifact {
	out := make([]*artifact, 0, 3)
	for _, a := range []*artifact{o.md, o.csv, o.json} {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// renderRow encodes one csv record, including its line terminator.
func renderRow(cells []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cells); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return buf.Bytes(), nil
}
