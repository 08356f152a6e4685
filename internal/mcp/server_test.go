package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey/internal/etl"
	_ "survey/internal/etl/sources"
	"survey/internal/schema"
	"survey/internal/service"
	"survey/internal/storage"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(in, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(in, "a.json"), []byte(`{"0":"blue","1":"42"}`), 0o644))

	db, err := storage.New(filepath.Join(dir, "survey.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	jobs := []etl.Job{
		{
			Name: "colors",
			Mode: etl.ModeSurvey,
			Questions: []schema.Question{
				{Text: "Color", Type: "short", Attributes: []string{"required"}},
				{Text: "Age", Type: "number"},
			},
			Labels:    schema.LabelIndexed,
			Source:    "directory",
			SourceCfg: etl.SourceConfig{"directory": in},
			Output:    filepath.Join(dir, "out", "colors"),
		},
		{
			Name:      "comments",
			Mode:      etl.ModeCorpus,
			Source:    "directory",
			SourceCfg: etl.SourceConfig{"directory": in},
			Output:    filepath.Join(dir, "out", "comments"),
		},
	}
	svc := service.NewStitchService(jobs, storage.NewRunStore(db), &service.MockEmitter{}, nil)
	return New(Deps{Stitch: svc}), dir
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestListJobs(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleListJobs(context.Background(), call(nil))
	require.NoError(t, err)

	var jobs []jobSummary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &jobs))
	require.Len(t, jobs, 2)
	assert.Equal(t, "colors", jobs[0].Name)
	assert.Equal(t, etl.ModeCorpus, jobs[1].Mode)
}

func TestDescribeSchema(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleDescribeSchema(context.Background(), call(map[string]any{"name": "colors"}))
	require.NoError(t, err)

	var summary schemaSummary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &summary))
	require.Len(t, summary.Columns, 2)
	assert.Equal(t, "00. Color", summary.Columns[0].Label)
	assert.True(t, summary.Columns[0].Required)
	assert.Equal(t, []string{"client", "session", "mode"}, summary.Reserved)

	res, err = s.handleDescribeSchema(context.Background(), call(map[string]any{"name": "comments"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "corpus job")

	_, err = s.handleDescribeSchema(context.Background(), call(map[string]any{}))
	assert.Error(t, err)
}

func TestRunJobAndListRuns(t *testing.T) {
	s, dir := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleListRuns(ctx, call(nil))
	require.NoError(t, err)
	assert.Equal(t, "No runs recorded.", resultText(t, res))

	res, err = s.handleRunJob(ctx, call(map[string]any{"name": "colors"}))
	require.NoError(t, err)
	var result etl.Result
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &result))
	assert.Equal(t, etl.StatusSuccess, result.Status)
	assert.FileExists(t, filepath.Join(dir, "out", "colors.csv"))

	res, err = s.handleListRuns(ctx, call(map[string]any{"name": "colors", "limit": 5}))
	require.NoError(t, err)
	var runs []etl.RunLog
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].ID)

	_, err = s.handleRunJob(ctx, call(map[string]any{"name": "missing"}))
	assert.Error(t, err)
}

func TestJobsResource(t *testing.T) {
	s, _ := newTestServer(t)
	contents, err := s.handleJobsResource(context.Background(), mcp.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, jobsURI, text.URI)
	assert.Contains(t, text.Text, `"comments"`)
}
