package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ── Answer ─────────────────────────────────────────────────
// One raw field value as submitted: a single string, a list of
// strings (checkbox groups), or any other JSON value.

// Answer holds the display values of a field plus its original JSON.
type Answer struct {
	Values []string
	Raw    json.RawMessage
}

// Single builds an answer from one string.
func Single(v string) Answer {
	return Answer{Values: []string{v}}
}

// Multi builds a multi-valued answer.
func Multi(vs ...string) Answer {
	return Answer{Values: append([]string(nil), vs...)}
}

// UnmarshalJSON accepts a string, an array, null, or any scalar/object.
// Non-string array elements and non-string scalars become compact JSON text.
func (a *Answer) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty value")
	}
	a.Raw = append(json.RawMessage(nil), trimmed...)
	a.Values = nil

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		a.Values = []string{s}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				a.Values = append(a.Values, s)
				continue
			}
			a.Values = append(a.Values, compactJSON(item))
		}
	case 'n':
		if string(trimmed) != "null" {
			return fmt.Errorf("invalid value %q", trimmed)
		}
	default:
		if !json.Valid(trimmed) {
			return fmt.Errorf("invalid value %q", trimmed)
		}
		a.Values = []string{compactJSON(trimmed)}
	}
	return nil
}

// MarshalJSON writes the original JSON when known, otherwise a string
// for a single value and an array for anything else.
func (a Answer) MarshalJSON() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	if len(a.Values) == 1 {
		return json.Marshal(a.Values[0])
	}
	if a.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.Values)
}

// Text joins the trimmed non-blank values with newlines.
// ok is false when every value was blank or there were none.
func (a Answer) Text() (string, bool) {
	return JoinValues(a.Values)
}

// JoinValues joins the trimmed non-blank values with newlines.
func JoinValues(values []string) (string, bool) {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		return "", false
	}
	return strings.Join(kept, "\n"), true
}

func compactJSON(b []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return string(b)
	}
	return buf.String()
}

// ── RawRecord ──────────────────────────────────────────────

// RawRecord is one respondent's submission: field key → answer,
// in the order the keys appeared in the source document. The zero value
// is an empty record.
type RawRecord struct {
	fields *orderedmap.OrderedMap[string, Answer]
}

// NewRawRecord returns an empty record.
func NewRawRecord() *RawRecord {
	return &RawRecord{fields: orderedmap.New[string, Answer]()}
}

// RawRecordFromMap builds a record from an unordered map. Keys are sorted
// so the result is deterministic.
func RawRecordFromMap(m map[string]Answer) *RawRecord {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := NewRawRecord()
	for _, k := range keys {
		r.Set(k, m[k])
	}
	return r
}

// ParseRawRecord decodes a JSON object into a record. An object whose only
// key is "data" holding another object is unwrapped first.
func ParseRawRecord(data []byte) (*RawRecord, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid json")
	}
	if t := bytes.TrimSpace(data); t[0] != '{' {
		return nil, fmt.Errorf("expected a json object")
	}
	envelope := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, envelope); err != nil {
		return nil, fmt.Errorf("expected a json object: %w", err)
	}
	if envelope.Len() == 1 {
		if inner, ok := envelope.Get("data"); ok {
			if t := bytes.TrimSpace(inner); len(t) > 0 && t[0] == '{' {
				return ParseRawRecord(t)
			}
		}
	}

	rec := NewRawRecord()
	for pair := envelope.Oldest(); pair != nil; pair = pair.Next() {
		var a Answer
		if err := a.UnmarshalJSON(pair.Value); err != nil {
			return nil, fmt.Errorf("field %q: %w", pair.Key, err)
		}
		rec.fields.Set(pair.Key, a)
	}
	return rec, nil
}

// Set stores an answer, replacing any previous value for key.
func (r *RawRecord) Set(key string, a Answer) {
	if r.fields == nil {
		r.fields = orderedmap.New[string, Answer]()
	}
	r.fields.Set(key, a)
}

// Get returns the answer for key.
func (r *RawRecord) Get(key string) (Answer, bool) {
	if r.fields == nil {
		return Answer{}, false
	}
	return r.fields.Get(key)
}

// Has reports whether key is present.
func (r *RawRecord) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// Delete removes key.
func (r *RawRecord) Delete(key string) {
	if r.fields != nil {
		r.fields.Delete(key)
	}
}

// Len returns the number of fields.
func (r *RawRecord) Len() int {
	if r.fields == nil {
		return 0
	}
	return r.fields.Len()
}

// Keys returns the field keys in record order.
func (r *RawRecord) Keys() []string {
	keys := make([]string, 0, r.Len())
	if r.fields == nil {
		return keys
	}
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Clone returns a copy that can be modified independently.
func (r *RawRecord) Clone() *RawRecord {
	c := NewRawRecord()
	if r.fields == nil {
		return c
	}
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		a := pair.Value
		c.fields.Set(pair.Key, Answer{
			Values: append([]string(nil), a.Values...),
			Raw:    append(json.RawMessage(nil), a.Raw...),
		})
	}
	return c
}

// MarshalJSON writes the record as a JSON object in record order.
func (r *RawRecord) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.fields)
}

// UnmarshalJSON implements json.Unmarshaler via ParseRawRecord.
func (r *RawRecord) UnmarshalJSON(b []byte) error {
	parsed, err := ParseRawRecord(b)
	if err != nil {
		return err
	}
	r.fields = parsed.fields
	return nil
}

// ── Normalized output ──────────────────────────────────────

// AnswerSlot is one question's rendered answer.
type AnswerSlot struct {
	Position int    `json:"position"`
	Label    string `json:"label"`
	TypeTag  string `json:"type"`
	Text     string `json:"text"`
}

// Answered reports whether the slot holds a real response.
func (s AnswerSlot) Answered() bool {
	return s.Text != NoResponse
}

// NormalizedRecord is a raw record aligned to a schema: one slot per
// question, in schema order.
type NormalizedRecord struct {
	Location        string       `json:"location"`
	RespondentID    string       `json:"respondent"`
	Session         string       `json:"session"`
	ModeLabel       string       `json:"mode"`
	Answers         []AnswerSlot `json:"answers"`
	MissingRequired []string     `json:"missingRequired,omitempty"`
}

// Reserved returns the reserved column values of the record, keyed by column name.
func (n NormalizedRecord) Reserved() map[string]string {
	return map[string]string{
		KeyClient:  n.RespondentID,
		KeySession: n.Session,
		KeyMode:    n.ModeLabel,
	}
}
