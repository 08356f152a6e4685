package etl

import "survey/internal/domain"

// ── Record ─────────────────────────────────────────────────
// Common intermediate format between sources and emitters.
// Every source emits Records; the engine normalizes or augments them
// before they reach an emitter.

// Record is one response read from a source.
//
// Client and Mode carry identity known from outside the response body
// (a manifest entry, a database row). They take precedence over the
// reserved keys inside Data.
//
// Err marks a record that could not be read or parsed. Such records are
// skipped and reported, never emitted.
type Record struct {
	Location string
	Client   string
	Mode     string
	Data     *domain.RawRecord
	Err      error
}

// Failed builds a record that only carries a read error.
func Failed(location string, err error) Record {
	return Record{Location: location, Err: domain.Malformed(location, err)}
}
