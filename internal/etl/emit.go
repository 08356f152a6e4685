package etl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"survey/internal/domain"
)

// ── Emitters ───────────────────────────────────────────────
// Two strategies share the same Outputs:
//
//   SurveyEmitter  the Column Set is fixed by the schema, no look-ahead.
//   CorpusEmitter  the Column Set is the key union found by a prior pass.
//
// Both render a record completely before writing any of it, so a record is
// present in all three artifacts or in none.

// SurveyEmitter writes normalized records under a schema-fixed header.
type SurveyEmitter struct {
	out     *Outputs
	labels  []string
	columns []string
	written int
}

// NewSurveyEmitter writes the narrative title and the tabular header.
func NewSurveyEmitter(out *Outputs, labels []string, title string) (*SurveyEmitter, error) {
	columns, err := SurveyColumns(labels)
	if err != nil {
		return nil, err
	}
	if err := out.writeTitle(title); err != nil {
		return nil, err
	}
	if err := out.writeHeader(columns); err != nil {
		return nil, err
	}
	return &SurveyEmitter{out: out, labels: labels, columns: columns}, nil
}

// Columns returns the Column Set.
func (e *SurveyEmitter) Columns() []string { return e.columns }

// Written returns the number of records emitted so far.
func (e *SurveyEmitter) Written() int { return e.written }

// Write emits one record. rec must have one slot per label.
func (e *SurveyEmitter) Write(rec domain.NormalizedRecord) error {
	c, err := e.render(rec)
	if err != nil {
		return err
	}
	if err := e.out.writeChunk(c); err != nil {
		return err
	}
	e.written++
	return nil
}

func (e *SurveyEmitter) render(rec domain.NormalizedRecord) (chunk, error) {
	if len(rec.Answers) != len(e.labels) {
		return chunk{}, fmt.Errorf("record %s has %d answers, schema has %d", rec.Location, len(rec.Answers), len(e.labels))
	}

	respondent := rec.RespondentID
	if respondent == "" {
		respondent = "anonymous"
	}
	heading := respondent
	if rec.ModeLabel != "" {
		heading += " (" + rec.ModeLabel + ")"
	}
	blocks := make([]narrativeBlock, len(rec.Answers))
	for i, s := range rec.Answers {
		title := s.Label
		if s.TypeTag != "" {
			title += " (" + s.TypeTag + ")"
		}
		blocks[i] = narrativeBlock{title: title, text: s.Text}
	}

	cells := make([]string, 0, len(e.columns))
	element := orderedmap.New[string, json.RawMessage](orderedmap.WithCapacity[string, json.RawMessage](len(e.columns)))
	for _, s := range rec.Answers {
		cells = append(cells, s.Text)
		element.Set(s.Label, encodeString(s.Text))
	}
	reserved := rec.Reserved()
	for _, col := range domain.ReservedColumns {
		v := reserved[col]
		cells = append(cells, v)
		if v != "" {
			element.Set(col, encodeString(v))
		}
	}

	return renderChunk(heading, blocks, cells, element)
}

// CorpusEmitter writes raw records under a discovered header. Keys outside
// the Column Set are dropped and counted.
type CorpusEmitter struct {
	out     *Outputs
	columns []string
	known   map[string]bool
	written int
	dropped int
}

// NewCorpusEmitter writes the narrative title and the tabular header.
func NewCorpusEmitter(out *Outputs, columns []string, title string) (*CorpusEmitter, error) {
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		if known[c] {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		known[c] = true
	}
	if err := out.writeTitle(title); err != nil {
		return nil, err
	}
	if err := out.writeHeader(columns); err != nil {
		return nil, err
	}
	return &CorpusEmitter{out: out, columns: columns, known: known}, nil
}

// Columns returns the Column Set.
func (e *CorpusEmitter) Columns() []string { return e.columns }

// Written returns the number of records emitted so far.
func (e *CorpusEmitter) Written() int { return e.written }

// Dropped returns how many values were dropped for lack of a column.
func (e *CorpusEmitter) Dropped() int { return e.dropped }

// Write emits one record.
func (e *CorpusEmitter) Write(location string, rec *domain.RawRecord) error {
	c, dropped, err := e.render(location, rec)
	if err != nil {
		return err
	}
	if err := e.out.writeChunk(c); err != nil {
		return err
	}
	e.written++
	e.dropped += dropped
	return nil
}

func (e *CorpusEmitter) render(location string, rec *domain.RawRecord) (chunk, int, error) {
	heading := location
	if a, ok := rec.Get(MetaFileKey); ok {
		if t, ok := a.Text(); ok {
			heading = t
		}
	}

	dropped := 0
	for _, k := range rec.Keys() {
		if !e.known[k] {
			dropped++
		}
	}

	var blocks []narrativeBlock
	cells := make([]string, len(e.columns))
	element := orderedmap.New[string, json.RawMessage](orderedmap.WithCapacity[string, json.RawMessage](len(e.columns)))
	for i, col := range e.columns {
		a, ok := rec.Get(col)
		if !ok {
			continue
		}
		// A present key with only blank values is unanswered; an absent
		// key leaves its cell empty.
		text, answered := a.Text()
		if !answered {
			text = domain.NoResponse
		}
		cells[i] = text
		blocks = append(blocks, narrativeBlock{title: col, text: text})

		raw, err := answerJSON(a)
		if err != nil {
			return chunk{}, 0, fmt.Errorf("encode %q: %w", col, err)
		}
		element.Set(col, raw)
	}

	c, err := renderChunk(heading, blocks, cells, element)
	return c, dropped, err
}

// ── Rendering ──────────────────────────────────────────────

type narrativeBlock struct {
	title string
	text  string
}

func renderChunk(heading string, blocks []narrativeBlock, cells []string, element *orderedmap.OrderedMap[string, json.RawMessage]) (chunk, error) {
	row, err := renderRow(cells)
	if err != nil {
		return chunk{}, err
	}
	el, err := renderElement(element)
	if err != nil {
		return chunk{}, err
	}
	return chunk{narrative: renderNarrative(heading, blocks), row: row, element: el}, nil
}

// renderNarrative renders one record section:
//
//	---
//
//	### heading
//
//	#### title
//
//	```
//	text
//	```
func renderNarrative(heading string, blocks []narrativeBlock) []byte {
	var b strings.Builder
	b.WriteString("---\n\n### ")
	b.WriteString(heading)
	b.WriteString("\n\n")
	for _, blk := range blocks {
		f := fence(blk.text)
		b.WriteString("#### ")
		b.WriteString(blk.title)
		b.WriteString("\n\n")
		b.WriteString(f)
		b.WriteString("\n")
		b.WriteString(blk.text)
		b.WriteString("\n")
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	return []byte(b.String())
}

// fence returns a backtick fence longer than any backtick run in text.
func fence(text string) string {
	longest, run := 0, 0
	for _, r := range text {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	n := 3
	if longest >= n {
		n = longest + 1
	}
	return strings.Repeat("`", n)
}

// renderElement encodes an ordered object indented by two spaces.
// Values are already encoded; keys are encoded without HTML escaping.
func renderElement(element *orderedmap.OrderedMap[string, json.RawMessage]) ([]byte, error) {
	var compact bytes.Buffer
	compact.WriteByte('{')
	for pair, first := element.Oldest(), true; pair != nil; pair = pair.Next() {
		if !first {
			compact.WriteByte(',')
		}
		first = false
		compact.Write(encodeString(pair.Key))
		compact.WriteByte(':')
		compact.Write(pair.Value)
	}
	compact.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("encode element: %w", err)
	}
	return out.Bytes(), nil
}

// answerJSON keeps the value as it was read; synthetic single values are
// encoded as plain strings.
func answerJSON(a domain.Answer) (json.RawMessage, error) {
	if len(a.Raw) == 0 && len(a.Values) == 1 {
		return encodeString(a.Values[0]), nil
	}
	return a.MarshalJSON()
}

// encodeString returns s as a JSON string literal without HTML escaping.
func encodeString(s string) json.RawMessage {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return bytes.TrimRight(buf.Bytes(), "\n")
}
