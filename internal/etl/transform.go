package etl

import (
	"fmt"

	"survey/internal/domain"
)

// ── Transformer ────────────────────────────────────────────
// Transformers modify records between source and emitter in corpus runs.
// They are composable: each takes a record and returns a (possibly
// modified) record, or an error that excludes the record.

// Transformer processes a single record.
type Transformer interface {
	Transform(Record) (Record, error)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(Record) (Record, error)

func (f TransformerFunc) Transform(r Record) (Record, error) { return f(r) }

// TransformConfig is a declarative transform definition.
type TransformConfig struct {
	Type   string         `yaml:"type" json:"type"` // "rename" | "select" | "drop"
	Config map[string]any `yaml:"config" json:"config"`
}

// ── Built-in Transforms ────────────────────────────────────

// RenameTransform renames keys in place, keeping their position.
type RenameTransform struct {
	Mapping map[string]string // old → new
}

func (t *RenameTransform) Transform(r Record) (Record, error) {
	out := domain.NewRawRecord()
	for _, k := range r.Data.Keys() {
		a, _ := r.Data.Get(k)
		name := k
		if to, ok := t.Mapping[k]; ok {
			name = to
		}
		if out.Has(name) {
			return r, domain.Malformed(r.Location, fmt.Errorf("rename %q: key %q already present", k, name))
		}
		out.Set(name, a)
	}
	r.Data = out
	return r, nil
}

// SelectTransform keeps only the listed keys. Meta keys always survive.
type SelectTransform struct {
	Keys []string
}

func (t *SelectTransform) Transform(r Record) (Record, error) {
	keep := make(map[string]bool, len(t.Keys))
	for _, k := range t.Keys {
		keep[k] = true
	}
	out := domain.NewRawRecord()
	for _, k := range r.Data.Keys() {
		if keep[k] || IsMetaKey(k) {
			a, _ := r.Data.Get(k)
			out.Set(k, a)
		}
	}
	r.Data = out
	return r, nil
}

// DropTransform removes the listed keys.
type DropTransform struct {
	Keys []string
}

func (t *DropTransform) Transform(r Record) (Record, error) {
	out := r.Data.Clone()
	for _, k := range t.Keys {
		out.Delete(k)
	}
	r.Data = out
	return r, nil
}

// ApplyTransformers runs the chain, stopping at the first error.
func ApplyTransformers(r Record, ts []Transformer) (Record, error) {
	var err error
	for _, t := range ts {
		if r, err = t.Transform(r); err != nil {
			return r, err
		}
	}
	return r, nil
}

// buildTransformers converts declarative configs into Transformer instances.
func buildTransformers(configs []TransformConfig) ([]Transformer, error) {
	var ts []Transformer
	for _, tc := range configs {
		switch tc.Type {
		case "rename":
			mapping, ok := tc.Config["mapping"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("rename: mapping is required")
			}
			m := make(map[string]string, len(mapping))
			for k, v := range mapping {
				m[k] = fmt.Sprint(v)
			}
			ts = append(ts, &RenameTransform{Mapping: m})

		case "select":
			keys := SourceConfig(tc.Config).Strings("keys")
			if len(keys) == 0 {
				return nil, fmt.Errorf("select: keys are required")
			}
			ts = append(ts, &SelectTransform{Keys: keys})

		case "drop":
			ts = append(ts, &DropTransform{Keys: SourceConfig(tc.Config).Strings("keys")})

		default:
			return nil, fmt.Errorf("unknown transform type %q", tc.Type)
		}
	}
	return ts, nil
}
