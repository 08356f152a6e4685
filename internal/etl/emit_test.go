package etl

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey/internal/domain"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestSurveyEmitter_Scenario(t *testing.T) {
	name := filepath.Join(t.TempDir(), "out")
	out, err := OpenOutputs(name, false)
	require.NoError(t, err)

	em, err := NewSurveyEmitter(out, []string{"Color", "Age"}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Color", "Age", "client", "session", "mode"}, em.Columns())

	require.NoError(t, em.Write(domain.NormalizedRecord{
		Session: "s1",
		Answers: []domain.AnswerSlot{
			{Position: 0, Label: "Color", TypeTag: "short", Text: "blue"},
			{Position: 1, Label: "Age", TypeTag: "number", Text: "42"},
		},
	}))
	require.NoError(t, out.Close())

	assert.Equal(t, "Color,Age,client,session,mode\nblue,42,,s1,\n", readFile(t, name+".csv"))
	assert.Equal(t, "[\n{\n  \"Color\": \"blue\",\n  \"Age\": \"42\",\n  \"session\": \"s1\"\n}\n]\n", readFile(t, name+".json"))
	assert.Equal(t, "---\n\n### anonymous\n\n"+
		"#### Color (short)\n\n```\nblue\n```\n\n"+
		"#### Age (number)\n\n```\n42\n```\n\n", readFile(t, name+".md"))
}

func TestSurveyEmitter_EmptyRunIsValid(t *testing.T) {
	name := filepath.Join(t.TempDir(), "empty")
	out, err := OpenOutputs(name, false)
	require.NoError(t, err)
	_, err = NewSurveyEmitter(out, []string{"Q"}, "Title")
	require.NoError(t, err)
	require.NoError(t, out.Close())

	var arr []any
	require.NoError(t, json.Unmarshal([]byte(readFile(t, name+".json")), &arr))
	assert.Empty(t, arr)
	assert.Equal(t, "Q,client,session,mode\n", readFile(t, name+".csv"))
	assert.Equal(t, "# Title\n\n", readFile(t, name+".md"))
}

func TestSurveyEmitter_JSONMatchesCSV(t *testing.T) {
	labels := []string{"Plain", "Comma, quote \"", "Multi"}
	records := []domain.NormalizedRecord{
		{RespondentID: "c1", ModeLabel: "web - 2024", Answers: []domain.AnswerSlot{
			{Label: labels[0], Text: "<b>bold</b> & co"},
			{Label: labels[1], Text: "a, \"b\""},
			{Label: labels[2], Text: "line 1\nline 2"},
		}},
		{RespondentID: "c2", Session: "s", Answers: []domain.AnswerSlot{
			{Label: labels[0], Text: domain.NoResponse},
			{Label: labels[1], Text: "ünïcödé ✓"},
			{Label: labels[2], Text: "```code```"},
		}},
	}

	name := filepath.Join(t.TempDir(), "rt")
	out, err := OpenOutputs(name, false)
	require.NoError(t, err)
	em, err := NewSurveyEmitter(out, labels, "")
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, em.Write(r))
	}
	require.NoError(t, out.Close())

	rows, err := csv.NewReader(strings.NewReader(readFile(t, name+".csv"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(records)+1)
	header := rows[0]

	var elements []map[string]string
	require.NoError(t, json.Unmarshal([]byte(readFile(t, name+".json")), &elements))
	require.Len(t, elements, len(records))

	for i, el := range elements {
		for col, v := range el {
			idx := -1
			for j, h := range header {
				if h == col {
					idx = j
				}
			}
			require.GreaterOrEqual(t, idx, 0, col)
			assert.Equal(t, rows[i+1][idx], v, "record %d column %q", i, col)
		}
		for j, l := range labels {
			assert.Equal(t, records[i].Answers[j].Text, el[l])
		}
	}
	assert.Contains(t, readFile(t, name+".json"), `"<b>bold</b> & co"`)
}

func TestCorpusEmitter_UnionAndDrops(t *testing.T) {
	name := filepath.Join(t.TempDir(), "corpus")
	out, err := OpenOutputs(name, false)
	require.NoError(t, err)
	em, err := NewCorpusEmitter(out, []string{"a", "b", "meta-file"}, "")
	require.NoError(t, err)

	rec := domain.NewRawRecord()
	rec.Set("b", domain.Answer{Values: []string{"2"}, Raw: json.RawMessage(`2`)})
	rec.Set("zzz", domain.Single("dropped"))
	rec.Set("meta-file", domain.Single("dir/f.json"))
	require.NoError(t, em.Write("dir/f.json", rec))
	require.NoError(t, out.Close())

	assert.Equal(t, 1, em.Written())
	assert.Equal(t, 1, em.Dropped())
	assert.Equal(t, "a,b,meta-file\n,2,dir/f.json\n", readFile(t, name+".csv"))
	assert.Equal(t, "[\n{\n  \"b\": 2,\n  \"meta-file\": \"dir/f.json\"\n}\n]\n", readFile(t, name+".json"))
	assert.Equal(t, "---\n\n### dir/f.json\n\n"+
		"#### b\n\n```\n2\n```\n\n"+
		"#### meta-file\n\n```\ndir/f.json\n```\n\n", readFile(t, name+".md"))
}

func TestCorpusEmitter_BlankValueIsNoResponse(t *testing.T) {
	name := filepath.Join(t.TempDir(), "corpus")
	out, err := OpenOutputs(name, false)
	require.NoError(t, err)
	em, err := NewCorpusEmitter(out, []string{"a", "b", "c"}, "")
	require.NoError(t, err)

	rec := domain.NewRawRecord()
	rec.Set("a", domain.Multi("", "  "))
	rec.Set("b", domain.Single("x"))
	require.NoError(t, em.Write("f.json", rec))
	require.NoError(t, out.Close())

	assert.Equal(t, "a,b,c\n<no response>,x,\n", readFile(t, name+".csv"))
	assert.Contains(t, readFile(t, name+".md"), "#### a\n\n```\n<no response>\n```")
}

func TestFence(t *testing.T) {
	assert.Equal(t, "```", fence("plain"))
	assert.Equal(t, "```", fence("one ` two ``"))
	assert.Equal(t, "````", fence("has ``` inside"))
	assert.Equal(t, "``````", fence("`````"))
}

func TestOutputs_Atomic(t *testing.T) {
	name := filepath.Join(t.TempDir(), "nested", "report")
	out, err := OpenOutputs(name, true)
	require.NoError(t, err)
	em, err := NewSurveyEmitter(out, []string{"Q"}, "")
	require.NoError(t, err)
	require.NoError(t, em.Write(domain.NormalizedRecord{Answers: []domain.AnswerSlot{{Label: "Q", Text: "x"}}}))

	for _, p := range out.Paths() {
		assert.NoFileExists(t, p)
		assert.FileExists(t, p+".tmp")
	}
	require.NoError(t, out.Close())
	for _, p := range out.Paths() {
		assert.FileExists(t, p)
		assert.NoFileExists(t, p+".tmp")
	}
}

func TestOutputs_AtomicAbort(t *testing.T) {
	name := filepath.Join(t.TempDir(), "report")
	out, err := OpenOutputs(name, true)
	require.NoError(t, err)
	out.Abort()
	for _, p := range out.Paths() {
		assert.NoFileExists(t, p)
		assert.NoFileExists(t, p+".tmp")
	}
}

func TestOutputs_NonAtomicAbortLeavesPrefix(t *testing.T) {
	name := filepath.Join(t.TempDir(), "report")
	out, err := OpenOutputs(name, false)
	require.NoError(t, err)
	em, err := NewSurveyEmitter(out, []string{"Q"}, "")
	require.NoError(t, err)
	require.NoError(t, em.Write(domain.NormalizedRecord{Answers: []domain.AnswerSlot{{Label: "Q", Text: "x"}}}))
	out.Abort()

	js := readFile(t, name+".json")
	assert.True(t, strings.HasPrefix(js, "[\n{"))
	assert.False(t, strings.HasSuffix(js, "]\n"))
	assert.Equal(t, "Q,client,session,mode\nx,,,\n", readFile(t, name+".csv"))
}

func TestSurveyEmitter_RejectsWrongSlotCount(t *testing.T) {
	name := filepath.Join(t.TempDir(), "bad")
	out, err := OpenOutputs(name, false)
	require.NoError(t, err)
	em, err := NewSurveyEmitter(out, []string{"A", "B"}, "")
	require.NoError(t, err)

	err = em.Write(domain.NormalizedRecord{Answers: []domain.AnswerSlot{{Label: "A", Text: "x"}}})
	assert.Error(t, err)
	require.NoError(t, out.Close())

	assert.Equal(t, "A,B,client,session,mode\n", readFile(t, name+".csv"))
	assert.Equal(t, "[\n]\n", readFile(t, name+".json"))
	assert.Empty(t, readFile(t, name+".md"))
}

func TestRenderElement_NoHTMLEscape(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encodeString("<a href='x'>&</a>"))
	assert.Equal(t, `"<a href='x'>&</a>"`, buf.String())
}
