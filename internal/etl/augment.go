package etl

import (
	"path/filepath"
	"strconv"
	"strings"

	"survey/internal/domain"
)

// Synthetic keys added by the Augmenter.
const (
	MetaFileKey = "meta-file"
	MetaPrefix  = "meta-"
)

// IsMetaKey reports whether key is meta-file or meta-<n>.
func IsMetaKey(key string) bool {
	if key == MetaFileKey {
		return true
	}
	_, ok := metaIndex(key)
	return ok
}

func metaIndex(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, MetaPrefix)
	if !ok || !isDigits(rest) {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Augmenter adds path-derived metadata to records found under Root.
type Augmenter struct {
	Root string
}

// Augment returns a copy of rec with meta-file set to location and one
// meta-<i> key per segment of location relative to Root. A record already
// holding any of those keys fails with an AugmentError and is left as is.
func (a Augmenter) Augment(location string, rec *domain.RawRecord) (*domain.RawRecord, error) {
	segments := a.segments(location)

	if rec.Has(MetaFileKey) {
		return nil, &domain.AugmentError{Location: location, Key: MetaFileKey}
	}
	for i := range segments {
		key := MetaPrefix + strconv.Itoa(i)
		if rec.Has(key) {
			return nil, &domain.AugmentError{Location: location, Key: key}
		}
	}

	out := rec.Clone()
	out.Set(MetaFileKey, domain.Single(location))
	for i, seg := range segments {
		out.Set(MetaPrefix+strconv.Itoa(i), domain.Single(seg))
	}
	return out, nil
}

// Transform implements Transformer.
func (a Augmenter) Transform(r Record) (Record, error) {
	data, err := a.Augment(r.Location, r.Data)
	if err != nil {
		return r, err
	}
	r.Data = data
	return r, nil
}

func (a Augmenter) segments(location string) []string {
	path := location
	if a.Root != "" {
		if rel, err := filepath.Rel(a.Root, location); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
	}
	var segs []string
	for _, s := range strings.Split(filepath.ToSlash(path), "/") {
		if s != "" && s != "." {
			segs = append(segs, s)
		}
	}
	return segs
}
