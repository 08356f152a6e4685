// Package schema loads question definitions and resolves them into the
// ordered, position-unique schema that drives every survey export.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"survey/internal/domain"
)

// Document is a parsed questionnaire definition.
type Document struct {
	Meta      Meta       `yaml:"meta" json:"meta"`
	Questions []Question `yaml:"questions" json:"questions"`
}

// Meta carries survey-wide settings.
type Meta struct {
	Title string `yaml:"title" json:"title"`
}

// Question is one question as written in the configuration source.
type Question struct {
	Text        string   `yaml:"text" json:"text"`
	Description string   `yaml:"desc" json:"desc"`
	Type        string   `yaml:"type" json:"type"`
	Attributes  []string `yaml:"attrs" json:"attrs"`
	Options     []string `yaml:"options" json:"options"`
	Group       string   `yaml:"group" json:"group"`
	Position    *int     `yaml:"position" json:"position"`
	// Numbered is the legacy explicit position; only values > 0 count.
	Numbered int `yaml:"numbered" json:"numbered"`
}

// explicitPosition returns the declared position, if any.
func (q Question) explicitPosition() (int, bool) {
	if q.Position != nil {
		return *q.Position, true
	}
	if q.Numbered > 0 {
		return q.Numbered, true
	}
	return 0, false
}

func (q Question) hasAttr(name string) bool {
	for _, a := range q.Attributes {
		if strings.EqualFold(strings.TrimSpace(a), name) {
			return true
		}
	}
	return false
}

// rawDocument accepts both the questionnaire shape and the export shape
// ({"fields": [{text, type}]}) written by the collector.
type rawDocument struct {
	Meta      Meta       `yaml:"meta" json:"meta"`
	Questions []Question `yaml:"questions" json:"questions"`
	Fields    []Question `yaml:"fields" json:"fields"`
}

func (r rawDocument) document() *Document {
	qs := r.Questions
	if len(qs) == 0 {
		qs = r.Fields
	}
	return &Document{Meta: r.Meta, Questions: qs}
}

// Load reads a schema file. Files ending in .json are decoded as JSON,
// anything else as YAML.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(data, format)
}

// Parse decodes a schema document. format is "json" or "yaml".
// The top level may be an object or a bare list of questions.
func Parse(data []byte, format string) (*Document, error) {
	switch format {
	case "json":
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var qs []Question
			if err := json.Unmarshal(trimmed, &qs); err != nil {
				return nil, fmt.Errorf("parse schema: %w", err)
			}
			return &Document{Questions: qs}, nil
		}
		var raw rawDocument
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("parse schema: %w", err)
		}
		return raw.document(), nil

	case "yaml", "yml", "":
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("parse schema: %w", err)
		}
		if len(node.Content) == 0 {
			return &Document{}, nil
		}
		root := node.Content[0]
		if root.Kind == yaml.SequenceNode {
			var qs []Question
			if err := root.Decode(&qs); err != nil {
				return nil, fmt.Errorf("parse schema: %w", err)
			}
			return &Document{Questions: qs}, nil
		}
		var raw rawDocument
		if err := root.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse schema: %w", err)
		}
		return raw.document(), nil

	default:
		return nil, fmt.Errorf("unknown schema format %q", format)
	}
}

// Definitions resolves the document's questions. See Resolve.
func (d *Document) Definitions() ([]domain.QuestionDef, error) {
	return Resolve(d.Questions)
}

// Resolve assigns positions and returns the schema ordered by position.
//
// A question with an explicit position keeps it. Every other question takes
// the next sequential integer, starting at 0 in source order, that no
// explicit question claims. Two questions resolving to the same position
// fail with a SchemaError.
func Resolve(questions []Question) ([]domain.QuestionDef, error) {
	claimed := make(map[int]string, len(questions))
	for _, q := range questions {
		pos, ok := q.explicitPosition()
		if !ok {
			continue
		}
		if pos < 0 {
			return nil, &domain.SchemaError{Reason: "negative position", Position: pos, Question: q.Text}
		}
		if _, dup := claimed[pos]; dup {
			return nil, &domain.SchemaError{Reason: "duplicate position", Position: pos, Question: q.Text}
		}
		claimed[pos] = q.Text
	}

	defs := make([]domain.QuestionDef, 0, len(questions))
	next := 0
	for _, q := range questions {
		pos, ok := q.explicitPosition()
		if !ok {
			for {
				if _, taken := claimed[next]; !taken {
					break
				}
				next++
			}
			pos = next
			claimed[pos] = q.Text
			next++
		}
		defs = append(defs, domain.QuestionDef{
			Position:    pos,
			Text:        q.Text,
			Type:        q.Type,
			Description: q.Description,
			Options:     q.Options,
			Required:    q.hasAttr("required"),
			Group:       q.Group,
		})
	}

	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Position < defs[j].Position })
	return defs, nil
}
