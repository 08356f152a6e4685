package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"survey/internal/config"
	"survey/internal/etl"
)

const sample = `
store: /var/survey
tag: team
output: sqlite
log:
  level: debug
jobs:
  - name: colors
    schema: questions.yaml
    source: manifest
    config:
      manifests: [store/team.index.manifest]
    labels: indexed
    output: out/colors
    html: true
    schedule: "@hourly"
  - name: comments
    mode: corpus
    source: directory
    config:
      directory: comments
      extensions: [.json]
    transforms:
      - type: drop
        config:
          keys: [secret]
    output: out/comments
    watch: comments
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "survey.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "/var/survey", cfg.Store)
	assert.Equal(t, "team", cfg.Tag)
	assert.Equal(t, "sqlite", cfg.Output)
	assert.Equal(t, "survey.db", cfg.DB)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	require.Len(t, cfg.Jobs, 2)
	colors := cfg.Jobs[0]
	assert.Equal(t, etl.ModeSurvey, colors.Mode)
	assert.Equal(t, "questions.yaml", colors.Schema)
	assert.Equal(t, []string{"store/team.index.manifest"}, colors.SourceCfg.Strings("manifests"))
	assert.True(t, colors.HTML)
	assert.Equal(t, "@hourly", colors.Schedule)

	comments := cfg.Jobs[1]
	assert.Equal(t, etl.ModeCorpus, comments.Mode)
	require.Len(t, comments.Transforms, 1)
	assert.Equal(t, "drop", comments.Transforms[0].Type)
	assert.Equal(t, "comments", comments.Watch)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SURVEY_STORE", "/tmp/s")
	t.Setenv("SURVEY_TAG", "override")
	t.Setenv("SURVEY_OUTPUT", "off")
	t.Setenv("SURVEY_LOG_FORMAT", "json")

	cfg, err := config.Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/s", cfg.Store)
	assert.Equal(t, "override", cfg.Tag)
	assert.Equal(t, "off", cfg.Output)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "store", cfg.Store)
	assert.Equal(t, "disk", cfg.Output)
	assert.Equal(t, time.Now().Format("2006-01-02"), cfg.Tag)
	assert.Empty(t, cfg.Jobs)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "jobs: [unterminated"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "output: s3\n"))
	assert.ErrorContains(t, err, "unknown output method")

	_, err = config.Load(writeConfig(t, `
jobs:
  - {name: a, mode: corpus, source: directory, output: out/a}
  - {name: a, mode: corpus, source: directory, output: out/b}
  - {name: b, mode: survey, source: files, output: out/c}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate job "a"`)
	assert.Contains(t, err.Error(), `schema or questions required`)
}
