package etl

import (
	"fmt"
	"strconv"
	"strings"

	"survey/internal/domain"
	"survey/internal/schema"
)

// modeSeparator joins the segments of a composite mode label.
const modeSeparator = " - "

// Normalizer aligns raw records to a fixed schema.
// It holds no mutable state; one instance can serve any number of records.
type Normalizer struct {
	defs   []domain.QuestionDef
	labels []string
}

// NewNormalizer builds a normalizer for defs, labelled with style.
func NewNormalizer(defs []domain.QuestionDef, style schema.LabelStyle) *Normalizer {
	return &Normalizer{defs: defs, labels: schema.Labels(defs, style)}
}

// Labels returns the answer labels in schema order.
func (n *Normalizer) Labels() []string {
	return append([]string(nil), n.labels...)
}

// Normalize produces one slot per question, in schema order.
//
// Reserved keys become record identity. Every other key must be a
// non-negative decimal position; anything else makes the whole record
// malformed. Positions the schema does not define are dropped.
func (n *Normalizer) Normalize(rec Record) (domain.NormalizedRecord, error) {
	out := domain.NormalizedRecord{Location: rec.Location, RespondentID: rec.Client}

	var modes []string
	if m := strings.TrimSpace(rec.Mode); m != "" {
		modes = append(modes, m)
	}

	grouped := make(map[int][]string)
	if rec.Data != nil {
		for _, key := range rec.Data.Keys() {
			a, _ := rec.Data.Get(key)
			switch key {
			case domain.KeyClient, domain.KeyRespondent:
				if out.RespondentID == "" {
					out.RespondentID, _ = a.Text()
				}
			case domain.KeySession:
				if out.Session == "" {
					out.Session, _ = a.Text()
				}
			case domain.KeyMode, domain.KeyTimestamp:
				if t, ok := a.Text(); ok {
					modes = append(modes, t)
				}
			default:
				pos, err := parsePosition(key)
				if err != nil {
					return domain.NormalizedRecord{}, domain.Malformed(rec.Location, err)
				}
				grouped[pos] = append(grouped[pos], a.Values...)
			}
		}
	}
	out.ModeLabel = strings.Join(modes, modeSeparator)

	out.Answers = make([]domain.AnswerSlot, len(n.defs))
	for i, d := range n.defs {
		text, ok := domain.JoinValues(grouped[d.Position])
		if !ok {
			text = domain.NoResponse
			if d.Required {
				out.MissingRequired = append(out.MissingRequired, n.labels[i])
			}
		}
		out.Answers[i] = domain.AnswerSlot{
			Position: d.Position,
			Label:    n.labels[i],
			TypeTag:  d.Type,
			Text:     text,
		}
	}
	return out, nil
}

func parsePosition(key string) (int, error) {
	if !isDigits(key) {
		return 0, fmt.Errorf("key %q is neither reserved nor a question position", key)
	}
	pos, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("key %q: %w", key, err)
	}
	return pos, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
