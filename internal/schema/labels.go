package schema

import (
	"fmt"

	"survey/internal/domain"
)

// LabelStyle selects how a question's column label is derived from its text.
type LabelStyle string

const (
	LabelPlain    LabelStyle = "plain"    // "Color"
	LabelIndexed  LabelStyle = "indexed"  // "00. Color", schema position
	LabelNumbered LabelStyle = "numbered" // "1. Color", 1-based order
)

// ParseLabelStyle validates a style name. The empty string means plain.
func ParseLabelStyle(s string) (LabelStyle, error) {
	switch LabelStyle(s) {
	case "", LabelPlain:
		return LabelPlain, nil
	case LabelIndexed, LabelNumbered:
		return LabelStyle(s), nil
	}
	return "", fmt.Errorf("unknown label style %q (plain, indexed, numbered)", s)
}

// Labels returns one label per definition, in order.
//
// Plain labels that collide with another question or with a reserved
// column use the indexed form instead, so every label names one column.
func Labels(defs []domain.QuestionDef, style LabelStyle) []string {
	labels := make([]string, len(defs))
	for i, d := range defs {
		switch style {
		case LabelIndexed:
			labels[i] = indexed(d)
		case LabelNumbered:
			labels[i] = fmt.Sprintf("%d. %s", i+1, d.Text)
		default:
			labels[i] = d.Text
		}
	}
	if style != LabelPlain && style != "" {
		return labels
	}

	count := make(map[string]int, len(labels)+len(domain.ReservedColumns))
	for _, c := range domain.ReservedColumns {
		count[c]++
	}
	for _, l := range labels {
		count[l]++
	}
	for i, l := range labels {
		if count[l] > 1 {
			labels[i] = indexed(defs[i])
		}
	}
	return labels
}

func indexed(d domain.QuestionDef) string {
	return fmt.Sprintf("%02d. %s", d.Position, d.Text)
}
