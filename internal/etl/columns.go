package etl

import (
	"sort"

	"survey/internal/domain"
)

// SurveyColumns returns the Column Set of a survey export: the question
// labels in schema order followed by the reserved columns.
func SurveyColumns(labels []string) ([]string, error) {
	cols := make([]string, 0, len(labels)+len(domain.ReservedColumns))
	cols = append(cols, labels...)
	cols = append(cols, domain.ReservedColumns...)

	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		if seen[c] {
			return nil, &domain.SchemaError{Reason: "duplicate column", Position: i, Question: c}
		}
		seen[c] = true
	}
	return cols, nil
}

// KeyUnion accumulates the key set of a corpus run.
//
// Data keys keep first-seen order. Meta keys follow them: meta-file first,
// then meta-<n> in numeric order.
type KeyUnion struct {
	seen map[string]bool
	data []string
	meta []string
}

// NewKeyUnion returns an empty union.
func NewKeyUnion() *KeyUnion {
	return &KeyUnion{seen: map[string]bool{}}
}

// Add merges the keys of rec.
func (u *KeyUnion) Add(rec *domain.RawRecord) {
	for _, k := range rec.Keys() {
		if u.seen[k] {
			continue
		}
		u.seen[k] = true
		if IsMetaKey(k) {
			u.meta = append(u.meta, k)
		} else {
			u.data = append(u.data, k)
		}
	}
}

// Len returns the number of distinct keys.
func (u *KeyUnion) Len() int { return len(u.data) + len(u.meta) }

// Columns returns the ordered column set.
func (u *KeyUnion) Columns() []string {
	meta := append([]string(nil), u.meta...)
	sort.SliceStable(meta, func(i, j int) bool {
		return metaRank(meta[i]) < metaRank(meta[j])
	})
	return append(append([]string(nil), u.data...), meta...)
}

func metaRank(key string) int {
	if key == MetaFileKey {
		return -1
	}
	n, _ := metaIndex(key)
	return n
}
