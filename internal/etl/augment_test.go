package etl_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey/internal/domain"
	"survey/internal/etl"
)

func text(t *testing.T, rec *domain.RawRecord, key string) string {
	t.Helper()
	a, ok := rec.Get(key)
	require.True(t, ok, "missing key %q", key)
	s, _ := a.Text()
	return s
}

func TestAugmenter_AddsPathKeys(t *testing.T) {
	root := filepath.Join("data", "corpus")
	loc := filepath.Join(root, "2024", "team-a", "r1.json")

	rec := domain.NewRawRecord()
	rec.Set("q", domain.Single("x"))

	out, err := etl.Augmenter{Root: root}.Augment(loc, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"q", "meta-file", "meta-0", "meta-1", "meta-2"}, out.Keys())
	assert.Equal(t, loc, text(t, out, "meta-file"))
	assert.Equal(t, "2024", text(t, out, "meta-0"))
	assert.Equal(t, "team-a", text(t, out, "meta-1"))
	assert.Equal(t, "r1.json", text(t, out, "meta-2"))

	// input untouched
	assert.Equal(t, []string{"q"}, rec.Keys())
}

func TestAugmenter_NoRootUsesWholePath(t *testing.T) {
	out, err := etl.Augmenter{}.Augment("a/b.json", domain.NewRawRecord())
	require.NoError(t, err)
	assert.Equal(t, "a", text(t, out, "meta-0"))
	assert.Equal(t, "b.json", text(t, out, "meta-1"))
}

func TestAugmenter_Collision(t *testing.T) {
	for _, key := range []string{"meta-file", "meta-1"} {
		t.Run(key, func(t *testing.T) {
			rec := domain.NewRawRecord()
			rec.Set(key, domain.Single("already here"))

			_, err := etl.Augmenter{Root: "root"}.Augment(filepath.Join("root", "x", "y.json"), rec)
			var ae *domain.AugmentError
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, key, ae.Key)
			assert.Equal(t, "already here", text(t, rec, key))
		})
	}
}

func TestIsMetaKey(t *testing.T) {
	assert.True(t, etl.IsMetaKey("meta-file"))
	assert.True(t, etl.IsMetaKey("meta-12"))
	assert.False(t, etl.IsMetaKey("meta-"))
	assert.False(t, etl.IsMetaKey("meta-x"))
	assert.False(t, etl.IsMetaKey("metadata"))
}

func TestKeyUnion_Order(t *testing.T) {
	u := etl.NewKeyUnion()
	for _, keys := range [][]string{
		{"a", "meta-10", "b", "meta-file"},
		{"b", "c", "meta-2", "meta-0"},
	} {
		rec := domain.NewRawRecord()
		for _, k := range keys {
			rec.Set(k, domain.Single(k))
		}
		u.Add(rec)
	}
	assert.Equal(t, 7, u.Len())
	assert.Equal(t, []string{"a", "b", "c", "meta-file", "meta-0", "meta-2", "meta-10"}, u.Columns())
}

func TestTransforms(t *testing.T) {
	rec := domain.NewRawRecord()
	rec.Set("a", domain.Single("1"))
	rec.Set("b", domain.Single("2"))
	rec.Set("meta-file", domain.Single("f"))
	in := etl.Record{Location: "f", Data: rec}

	out, err := (&etl.RenameTransform{Mapping: map[string]string{"a": "Alpha"}}).Transform(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "b", "meta-file"}, out.Data.Keys())

	_, err = (&etl.RenameTransform{Mapping: map[string]string{"a": "b"}}).Transform(in)
	var me *domain.MalformedRecordError
	assert.True(t, errors.As(err, &me))

	out, err = (&etl.SelectTransform{Keys: []string{"b"}}).Transform(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "meta-file"}, out.Data.Keys())

	out, err = etl.ApplyTransformers(in, []etl.Transformer{
		&etl.DropTransform{Keys: []string{"a"}},
		&etl.RenameTransform{Mapping: map[string]string{"b": "B"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "meta-file"}, out.Data.Keys())
	assert.Equal(t, []string{"a", "b", "meta-file"}, rec.Keys())
}
