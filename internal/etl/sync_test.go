package etl_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey/internal/domain"
	"survey/internal/etl"
	_ "survey/internal/etl/sources"
	"survey/internal/schema"
)

func write(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func surveyJob(dir string, files ...string) *etl.Job {
	return &etl.Job{
		Name: "colors",
		Mode: etl.ModeSurvey,
		Questions: []schema.Question{
			{Text: "Color", Type: "short"},
			{Text: "Age", Type: "number"},
		},
		Source:    "files",
		SourceCfg: etl.SourceConfig{"files": files},
		Output:    filepath.Join(dir, "out", "colors"),
	}
}

func TestEngine_RunSurvey(t *testing.T) {
	dir := t.TempDir()
	f := write(t, filepath.Join(dir, "r1.json"), `{"0": "blue", "1": ["", "42"], "session": "s1"}`)

	var stages []string
	e := &etl.Engine{OnStage: func(job, stage string) { stages = append(stages, stage) }}
	res, err := e.RunSurvey(context.Background(), surveyJob(dir, f))
	require.NoError(t, err)

	assert.Equal(t, etl.StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Written)
	assert.Empty(t, res.Skipped)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []string{etl.StageParsing, etl.StageReading, etl.StageOutputs}, stages)

	out := filepath.Join(dir, "out", "colors")
	assert.Equal(t, []string{out + ".md", out + ".csv", out + ".json"}, res.Artifacts)
	assert.Equal(t, "Color,Age,client,session,mode\nblue,42,,s1,\n", read(t, out+".csv"))
	assert.Equal(t, 2, strings.Count(read(t, out+".md"), "```\n\n"))

	var elements []map[string]string
	require.NoError(t, json.Unmarshal([]byte(read(t, out+".json")), &elements))
	assert.Equal(t, []map[string]string{{"Color": "blue", "Age": "42", "session": "s1"}}, elements)
}

func TestEngine_RunSurvey_ExcludesBadRecordsEverywhere(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		write(t, filepath.Join(dir, "a.json"), `{"0": "red", "client": "ann"}`),
		write(t, filepath.Join(dir, "b.json"), `{"0": "green", "color": "x"}`),
		write(t, filepath.Join(dir, "c.json"), `{not json`),
		filepath.Join(dir, "missing.json"),
		write(t, filepath.Join(dir, "d.json"), `{"data": {"1": "33", "client": "dan"}}`),
	}

	res, err := (&etl.Engine{}).RunSurvey(context.Background(), surveyJob(dir, files...))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 2, res.Written)
	require.Len(t, res.Skipped, 3)
	assert.Equal(t, files[1], res.Skipped[0].Location)
	assert.Equal(t, files[2], res.Skipped[1].Location)
	assert.Equal(t, files[3], res.Skipped[2].Location)
	assert.Contains(t, res.Summary(), "3 skipped")

	out := filepath.Join(dir, "out", "colors")
	assert.Equal(t, 2, strings.Count(read(t, out+".md"), "---\n"))
	assert.Equal(t, "Color,Age,client,session,mode\nred,<no response>,ann,,\n<no response>,33,dan,,\n", read(t, out+".csv"))

	var elements []map[string]string
	require.NoError(t, json.Unmarshal([]byte(read(t, out+".json")), &elements))
	require.Len(t, elements, 2)
	assert.Equal(t, "ann", elements[0]["client"])
	assert.Equal(t, "dan", elements[1]["client"])
}

func TestEngine_RunSurvey_DuplicatePositionWritesNothing(t *testing.T) {
	dir := t.TempDir()
	zero := 0
	job := surveyJob(dir, write(t, filepath.Join(dir, "r.json"), `{"0": "x"}`))
	job.Questions = []schema.Question{{Text: "A", Position: &zero}, {Text: "B", Position: &zero}}

	res, err := (&etl.Engine{}).RunSurvey(context.Background(), job)
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, etl.StatusError, res.Status)
	assert.NoDirExists(t, filepath.Join(dir, "out"))
}

func TestEngine_RunSurvey_Manifest(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "t1_1_web_ann.json"), `{"0": "blue", "mode": "late"}`)
	write(t, filepath.Join(dir, "t1_2_paper_bob.json"), `{"1": "50"}`)
	write(t, filepath.Join(dir, "t0_3_web_old.json"), `{"0": "stale"}`)
	manifest := write(t, filepath.Join(dir, "t1.index.manifest"), `{
		"files":   ["t1_1_web_ann", "t1_2_paper_bob", "t0_3_web_old"],
		"clients": ["ann", "bob", "old"],
		"modes":   ["web", "paper", "web"]
	}`)

	job := surveyJob(dir)
	job.Source = "manifest"
	job.SourceCfg = etl.SourceConfig{"manifests": []any{manifest}, "tag": "t1"}
	job.Labels = schema.LabelIndexed

	res, err := (&etl.Engine{}).RunSurvey(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)

	out := filepath.Join(dir, "out", "colors")
	assert.Equal(t, "00. Color,01. Age,client,session,mode\n"+
		"blue,<no response>,ann,,web - late\n"+
		"<no response>,50,bob,,paper\n", read(t, out+".csv"))
	assert.Contains(t, read(t, out+".md"), "### ann (web - late)\n\n#### 00. Color (short)\n\n")
}

func TestEngine_RunSurvey_CorruptManifestIsFatal(t *testing.T) {
	dir := t.TempDir()
	manifest := write(t, filepath.Join(dir, "x.index.manifest"), `{"files": ["a"], "clients": [], "modes": []}`)
	job := surveyJob(dir)
	job.Source = "manifest"
	job.SourceCfg = etl.SourceConfig{"manifests": []any{manifest}}

	res, err := (&etl.Engine{}).RunSurvey(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt index")
	assert.Equal(t, etl.StatusError, res.Status)
}

func TestEngine_RunSurvey_AtomicWithHTMLAndBundle(t *testing.T) {
	dir := t.TempDir()
	job := surveyJob(dir, write(t, filepath.Join(dir, "r.json"), `{"0": "<i>blue</i>"}`))
	job.Atomic = true
	job.HTML = true
	job.Table = true
	job.Bundle = true
	job.Title = "Colors"

	res, err := (&etl.Engine{}).RunSurvey(context.Background(), job)
	require.NoError(t, err)

	out := filepath.Join(dir, "out", "colors")
	assert.Equal(t, []string{
		out + ".md", out + ".csv", out + ".json",
		out + ".html", out + ".table.html", out + ".tar.gz",
	}, res.Artifacts)
	for _, p := range res.Artifacts {
		assert.FileExists(t, p)
		assert.NoFileExists(t, p+".tmp")
	}
	assert.True(t, strings.HasPrefix(read(t, out+".md"), "# Colors\n\n---\n"))
	assert.Contains(t, read(t, out+".html"), "&lt;i&gt;blue&lt;/i&gt;")
}

func TestEngine_RunCorpus_HeterogeneousKeys(t *testing.T) {
	root := filepath.Join(t.TempDir(), "corpus")
	write(t, filepath.Join(root, "a.json"), `{"a": "1", "b": "2"}`)
	write(t, filepath.Join(root, "b.json"), `{"b": "3", "c": "4"}`)
	write(t, filepath.Join(root, "sub", "c.json"), `{"a": "5", "c": 6}`)
	write(t, filepath.Join(root, "notes.txt"), `ignored`)

	job := &etl.Job{
		Name:      "corpus",
		Mode:      etl.ModeCorpus,
		Source:    "directory",
		SourceCfg: etl.SourceConfig{"directory": root},
		Output:    filepath.Join(t.TempDir(), "all"),
	}
	res, err := (&etl.Engine{}).RunCorpus(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, res.Written)

	a := filepath.Join(root, "a.json")
	b := filepath.Join(root, "b.json")
	c := filepath.Join(root, "sub", "c.json")
	assert.Equal(t, "a,b,c,meta-file,meta-0,meta-1\n"+
		"1,2,,"+a+",a.json,\n"+
		",3,4,"+b+",b.json,\n"+
		"5,,6,"+c+",sub,c.json\n", read(t, job.Output+".csv"))

	var elements []map[string]any
	require.NoError(t, json.Unmarshal([]byte(read(t, job.Output+".json")), &elements))
	require.Len(t, elements, 3)
	assert.Equal(t, float64(6), elements[2]["c"], "raw JSON values are kept")
	assert.NotContains(t, elements[0], "c")
}

func TestEngine_RunCorpus_AugmentCollision(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "ok.json"), `{"a": "1"}`)
	write(t, filepath.Join(root, "clash.json"), `{"a": "2", "meta-0": "mine"}`)

	job := &etl.Job{
		Name:      "corpus",
		Mode:      etl.ModeCorpus,
		Source:    "directory",
		SourceCfg: etl.SourceConfig{"directory": root},
		Output:    filepath.Join(t.TempDir(), "all"),
	}

	t.Run("strict fails before writing", func(t *testing.T) {
		_, err := (&etl.Engine{}).RunCorpus(context.Background(), job)
		var ae *domain.AugmentError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "meta-0", ae.Key)
		assert.NoFileExists(t, job.Output+".csv")
	})

	t.Run("lenient skips and reports", func(t *testing.T) {
		lenient := *job
		lenient.Lenient = true
		res, err := (&etl.Engine{}).RunCorpus(context.Background(), &lenient)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Processed)
		assert.Equal(t, 1, res.Written)
		require.Len(t, res.Skipped, 1)
		assert.Equal(t, filepath.Join(root, "clash.json"), res.Skipped[0].Location)
	})
}

func TestEngine_RunCorpus_SelectAndRename(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "r.json"), `{"q1": "yes", "q2": "no", "secret": "x"}`)

	job := &etl.Job{
		Name:       "corpus",
		Mode:       etl.ModeCorpus,
		Source:     "directory",
		SourceCfg:  etl.SourceConfig{"directory": root},
		NoMetadata: true,
		Transforms: []etl.TransformConfig{
			{Type: "select", Config: map[string]any{"keys": []any{"q1", "q2"}}},
			{Type: "rename", Config: map[string]any{"mapping": map[string]any{"q1": "First"}}},
		},
		Output: filepath.Join(t.TempDir(), "sel"),
	}
	_, err := (&etl.Engine{}).RunCorpus(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "First,q2\nyes,no\n", read(t, job.Output+".csv"))
}

func TestEngine_RunCorpus_OutputInsideRoot(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a.json"), `{"name": "ann"}`)
	write(t, filepath.Join(root, "b.json"), `{"name": "bob"}`)

	for _, atomic := range []bool{false, true} {
		job := &etl.Job{
			Name:       "corpus",
			Mode:       etl.ModeCorpus,
			Source:     "directory",
			SourceCfg:  etl.SourceConfig{"directory": root},
			NoMetadata: true,
			Atomic:     atomic,
			Output:     filepath.Join(root, "report"),
		}
		// The second run finds the first run's report.json in the root.
		for run := 0; run < 2; run++ {
			res, err := (&etl.Engine{}).RunCorpus(context.Background(), job)
			require.NoError(t, err)
			assert.Equal(t, 2, res.Processed)
			assert.Equal(t, 2, res.Written)
			assert.Empty(t, res.Skipped)
		}
		assert.Equal(t, "name\nann\nbob\n", read(t, job.Output+".csv"))
	}
}

func TestEngine_Validate(t *testing.T) {
	cases := []*etl.Job{
		{Mode: etl.ModeSurvey},
		{Name: "x", Mode: "other", Source: "files", Output: "o"},
		{Name: "x", Mode: etl.ModeSurvey, Source: "files", Output: "o"},
		{Name: "x", Mode: etl.ModeCorpus, Output: "o"},
		{Name: "x", Mode: etl.ModeCorpus, Source: "files"},
	}
	for _, job := range cases {
		assert.Error(t, job.Validate())
	}
	_, err := (&etl.Engine{}).Run(context.Background(), &etl.Job{Name: "x", Mode: etl.ModeCorpus, Source: "nope", Output: filepath.Join(t.TempDir(), "o")})
	assert.ErrorContains(t, err, "unknown source type")
}

func TestEngine_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, n := range []string{"a", "b", "c"} {
		files = append(files, write(t, filepath.Join(dir, n+".json"), `{"0": "x"}`))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := surveyJob(dir, files...)
	job.Atomic = true
	res, err := (&etl.Engine{}).RunSurvey(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, etl.StatusError, res.Status)
	assert.NoFileExists(t, job.Output+".csv")
	assert.NoFileExists(t, job.Output+".csv.tmp")
}

func TestListSources(t *testing.T) {
	var types []string
	for _, s := range etl.ListSources() {
		types = append(types, s.Type)
	}
	assert.Equal(t, []string{"directory", "files", "manifest", "mongo", "sql"}, types)
}
