package etl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"survey/internal/domain"
	"survey/internal/schema"
)

// ── Job ────────────────────────────────────────────────────
// A job names one aggregation: where records come from, how they are
// shaped, and which artifacts come out.

// JobMode selects the emitter strategy.
type JobMode string

const (
	ModeSurvey JobMode = "survey" // schema-fixed columns
	ModeCorpus JobMode = "corpus" // columns discovered from the records
)

// Run stages reported through Engine.OnStage.
const (
	StageParsing = "parsing…"
	StageReading = "reading…"
	StageOutputs = "outputs…"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusRunning = "running"
)

// Job holds the configuration for a single aggregation run.
type Job struct {
	Name string  `yaml:"name" json:"name"`
	Mode JobMode `yaml:"mode" json:"mode"`

	// Survey mode: a schema file, or inline questions when Schema is empty.
	Schema    string            `yaml:"schema" json:"schema,omitempty"`
	Questions []schema.Question `yaml:"questions" json:"questions,omitempty"`
	Labels    schema.LabelStyle `yaml:"labels" json:"labels,omitempty"`
	Title     string            `yaml:"title" json:"title,omitempty"`

	Source    string       `yaml:"source" json:"source"`
	SourceCfg SourceConfig `yaml:"config" json:"config"`

	// Corpus mode.
	Transforms []TransformConfig `yaml:"transforms" json:"transforms,omitempty"`
	NoMetadata bool              `yaml:"noMetadata" json:"noMetadata,omitempty"`
	Lenient    bool              `yaml:"lenient" json:"lenient,omitempty"`

	Output string `yaml:"output" json:"output"`
	Atomic bool   `yaml:"atomic" json:"atomic,omitempty"`
	HTML   bool   `yaml:"html" json:"html,omitempty"`
	Table  bool   `yaml:"table" json:"table,omitempty"`
	Bundle bool   `yaml:"bundle" json:"bundle,omitempty"`

	Schedule string `yaml:"schedule" json:"schedule,omitempty"` // cron expression
	Watch    string `yaml:"watch" json:"watch,omitempty"`       // directory to watch
}

// Validate checks the fields every run needs.
func (j *Job) Validate() error {
	if j.Name == "" {
		return errors.New("job name is required")
	}
	switch j.Mode {
	case ModeSurvey:
		if j.Schema == "" && len(j.Questions) == 0 {
			return fmt.Errorf("job %q: schema or questions required", j.Name)
		}
	case ModeCorpus:
	default:
		return fmt.Errorf("job %q: unknown mode %q", j.Name, j.Mode)
	}
	if j.Source == "" {
		return fmt.Errorf("job %q: source is required", j.Name)
	}
	if j.Output == "" {
		return fmt.Errorf("job %q: output is required", j.Name)
	}
	return nil
}

// Definitions resolves the job's schema and title.
func (j *Job) Definitions() ([]domain.QuestionDef, string, error) {
	title := j.Title
	if j.Schema == "" {
		defs, err := schema.Resolve(j.Questions)
		return defs, title, err
	}
	doc, err := schema.Load(j.Schema)
	if err != nil {
		return nil, "", err
	}
	if title == "" {
		title = doc.Meta.Title
	}
	defs, err := doc.Definitions()
	return defs, title, err
}

// transformers builds the corpus chain: metadata first, then configured transforms.
func (j *Job) transformers() ([]Transformer, error) {
	var ts []Transformer
	if !j.NoMetadata {
		ts = append(ts, Augmenter{Root: j.SourceCfg.String("directory")})
	}
	configured, err := buildTransformers(j.Transforms)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", j.Name, err)
	}
	return append(ts, configured...), nil
}

// ── Result ─────────────────────────────────────────────────

// Skip is one record left out of the outputs.
type Skip struct {
	Location string `json:"location"`
	Reason   string `json:"reason"`
}

// Result is the outcome of one run.
type Result struct {
	RunID     string        `json:"runId"`
	Job       string        `json:"job"`
	Status    string        `json:"status"`
	Processed int           `json:"processed"`
	Written   int           `json:"written"`
	Skipped   []Skip        `json:"skipped,omitempty"`
	Dropped   int           `json:"dropped,omitempty"`
	Duration  time.Duration `json:"duration"`
	Artifacts []string      `json:"artifacts,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func (r *Result) skip(location string, err error) {
	r.Skipped = append(r.Skipped, Skip{Location: location, Reason: err.Error()})
}

// Summary is a one-line description of the run.
func (r *Result) Summary() string {
	s := fmt.Sprintf("%s: %s, %d processed, %d written", r.Job, r.Status, r.Processed, r.Written)
	if n := len(r.Skipped); n > 0 {
		s += fmt.Sprintf(", %d skipped", n)
	}
	if r.Dropped > 0 {
		s += fmt.Sprintf(", %d values dropped", r.Dropped)
	}
	return s
}

// RunLog is a historical record of a run.
type RunLog struct {
	ID         string    `json:"id"`
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"`
	Processed  int       `json:"processed"`
	Written    int       `json:"written"`
	Skipped    int       `json:"skipped"`
	Dropped    int       `json:"dropped"`
	Error      string    `json:"error,omitempty"`
}

// RunLog summarizes the result of a run that began at started.
func (r *Result) RunLog(started time.Time) *RunLog {
	return &RunLog{
		ID:         r.RunID,
		Job:        r.Job,
		StartedAt:  started,
		FinishedAt: started.Add(r.Duration),
		Status:     r.Status,
		Processed:  r.Processed,
		Written:    r.Written,
		Skipped:    len(r.Skipped),
		Dropped:    r.Dropped,
		Error:      r.Error,
	}
}

// ── Engine ─────────────────────────────────────────────────

// Engine runs aggregation jobs against the registered sources.
type Engine struct {
	Logger *zap.Logger
	// OnStage is called as a run moves through its stages. May be nil.
	OnStage func(job, stage string)
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Engine) stage(job *Job, stage string) {
	if e.OnStage != nil {
		e.OnStage(job.Name, stage)
	}
}

// Run dispatches on the job mode.
func (e *Engine) Run(ctx context.Context, job *Job) (*Result, error) {
	if job.Mode == ModeCorpus {
		return e.RunCorpus(ctx, job)
	}
	return e.RunSurvey(ctx, job)
}

// RunSurvey aggregates records against a fixed schema.
// Schema problems fail the run before any output file exists.
func (e *Engine) RunSurvey(ctx context.Context, job *Job) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.New().String(), Job: job.Name, Status: StatusRunning}
	log := e.logger().With(zap.String("job", job.Name), zap.String("run", res.RunID))

	if err := job.Validate(); err != nil {
		return fail(res, start, err)
	}

	e.stage(job, StageParsing)
	defs, title, err := job.Definitions()
	if err != nil {
		return fail(res, start, err)
	}
	style, err := schema.ParseLabelStyle(string(job.Labels))
	if err != nil {
		return fail(res, start, err)
	}
	norm := NewNormalizer(defs, style)
	if _, err := SurveyColumns(norm.Labels()); err != nil {
		return fail(res, start, err)
	}
	log.Debug("schema resolved", zap.Int("questions", len(defs)))

	source, err := GetSource(job.Source)
	if err != nil {
		return fail(res, start, err)
	}

	out, err := OpenOutputs(job.Output, job.Atomic)
	if err != nil {
		return fail(res, start, err)
	}
	emitter, err := NewSurveyEmitter(out, norm.Labels(), title)
	if err != nil {
		out.Abort()
		return fail(res, start, err)
	}

	e.stage(job, StageReading)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	own := ownArtifacts(job.Output)
	recCh, errCh := source.Read(ctx, job.SourceCfg)
	for rec := range recCh {
		if own.has(rec.Location) {
			continue
		}
		res.Processed++
		if rec.Err != nil {
			e.skip(log, res, rec.Location, rec.Err)
			continue
		}
		n, err := norm.Normalize(rec)
		if err != nil {
			e.skip(log, res, rec.Location, err)
			continue
		}
		if len(n.MissingRequired) > 0 {
			log.Debug("required questions unanswered",
				zap.String("location", rec.Location),
				zap.Strings("questions", n.MissingRequired))
		}
		if err := emitter.Write(n); err != nil {
			out.Abort()
			return fail(res, start, err)
		}
	}
	if err := sourceErr(ctx, errCh); err != nil {
		out.Abort()
		return fail(res, start, err)
	}
	res.Written = emitter.Written()

	return e.finish(log, job, out, title, res, start)
}

// RunCorpus aggregates records without a schema. A first pass reads every
// record to discover the Column Set; the second pass reads them again and
// emits them. Only second-pass failures are reported.
//
// An AugmentError fails the run unless the job is lenient, in which case
// the record is skipped and reported like any malformed record.
func (e *Engine) RunCorpus(ctx context.Context, job *Job) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.New().String(), Job: job.Name, Status: StatusRunning}
	log := e.logger().With(zap.String("job", job.Name), zap.String("run", res.RunID))

	if err := job.Validate(); err != nil {
		return fail(res, start, err)
	}
	transforms, err := job.transformers()
	if err != nil {
		return fail(res, start, err)
	}
	source, err := GetSource(job.Source)
	if err != nil {
		return fail(res, start, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.stage(job, StageParsing)
	own := ownArtifacts(job.Output)
	union := NewKeyUnion()
	recCh, errCh := source.Read(ctx, job.SourceCfg)
	for rec := range recCh {
		if rec.Err != nil || own.has(rec.Location) {
			continue
		}
		rec, err := ApplyTransformers(rec, transforms)
		if err != nil {
			var ae *domain.AugmentError
			if errors.As(err, &ae) && !job.Lenient {
				cancel()
				return fail(res, start, err)
			}
			continue
		}
		union.Add(rec.Data)
	}
	if err := sourceErr(ctx, errCh); err != nil {
		return fail(res, start, err)
	}
	columns := union.Columns()
	log.Debug("columns discovered", zap.Int("columns", len(columns)))

	out, err := OpenOutputs(job.Output, job.Atomic)
	if err != nil {
		return fail(res, start, err)
	}
	emitter, err := NewCorpusEmitter(out, columns, job.Title)
	if err != nil {
		out.Abort()
		return fail(res, start, err)
	}

	e.stage(job, StageReading)
	recCh, errCh = source.Read(ctx, job.SourceCfg)
	for rec := range recCh {
		if own.has(rec.Location) {
			continue
		}
		res.Processed++
		if rec.Err != nil {
			e.skip(log, res, rec.Location, rec.Err)
			continue
		}
		rec, err := ApplyTransformers(rec, transforms)
		if err != nil {
			var ae *domain.AugmentError
			if errors.As(err, &ae) && !job.Lenient {
				out.Abort()
				return fail(res, start, err)
			}
			e.skip(log, res, rec.Location, err)
			continue
		}
		if err := emitter.Write(rec.Location, rec.Data); err != nil {
			out.Abort()
			return fail(res, start, err)
		}
	}
	if err := sourceErr(ctx, errCh); err != nil {
		out.Abort()
		return fail(res, start, err)
	}
	res.Written = emitter.Written()
	res.Dropped = emitter.Dropped()

	return e.finish(log, job, out, job.Title, res, start)
}

// finish closes the outputs and runs the optional post-processing stages.
func (e *Engine) finish(log *zap.Logger, job *Job, out *Outputs, title string, res *Result, start time.Time) (*Result, error) {
	e.stage(job, StageOutputs)
	if err := out.Close(); err != nil {
		return fail(res, start, err)
	}
	artifacts := out.Paths()

	if title == "" {
		title = strings.TrimSuffix(filepath.Base(out.Name()), filepath.Ext(out.Name()))
	}
	if job.HTML {
		path := out.Name() + ExtHTML
		if err := RenderHTMLFile(out.Name()+ExtMarkdown, path, title); err != nil {
			return fail(res, start, err)
		}
		artifacts = append(artifacts, path)
	}
	if job.Table {
		path := out.Name() + ".table" + ExtHTML
		if err := RenderTableFile(out.Name()+ExtCSV, path, title, false); err != nil {
			return fail(res, start, err)
		}
		artifacts = append(artifacts, path)
	}
	if job.Bundle {
		path := out.Name() + ExtBundle
		if err := Bundle(path, artifacts); err != nil {
			return fail(res, start, err)
		}
		artifacts = append(artifacts, path)
	}

	res.Artifacts = artifacts
	res.Status = StatusSuccess
	res.Duration = time.Since(start)

	if n := len(res.Skipped); n > 0 {
		log.Warn("records skipped", zap.Int("skipped", n), zap.Int("processed", res.Processed))
	}
	if res.Dropped > 0 {
		log.Warn("values without a column were dropped", zap.Int("dropped", res.Dropped))
	}
	log.Info("run finished",
		zap.Int("processed", res.Processed),
		zap.Int("written", res.Written),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (e *Engine) skip(log *zap.Logger, res *Result, location string, err error) {
	res.skip(location, err)
	log.Warn("record skipped", zap.String("location", location), zap.Error(err))
}

// sourceErr returns the source's fatal error, or the context error if the
// run was cancelled before the source finished.
func sourceErr(ctx context.Context, errCh <-chan error) error {
	if err := <-errCh; err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return ctx.Err()
}

func fail(res *Result, start time.Time, err error) (*Result, error) {
	res.Status = StatusError
	res.Error = err.Error()
	res.Duration = time.Since(start)
	return res, err
}

// artifactExts lists every file suffix a run may write after its output name.
var artifactExts = []string{ExtMarkdown, ExtCSV, ExtJSON, ExtHTML, ".table" + ExtHTML, ExtBundle}

// artifactSet holds the absolute paths a run writes, including atomic temp
// files. Sources that walk the output directory would otherwise read them
// back as responses.
type artifactSet map[string]bool

func ownArtifacts(name string) artifactSet {
	set := artifactSet{}
	for _, ext := range artifactExts {
		p := absPath(name + ext)
		set[p] = true
		set[p+".tmp"] = true
	}
	return set
}

func (s artifactSet) has(location string) bool {
	return location != "" && s[absPath(location)]
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// RemoveArtifacts deletes the files of a previous run with the same output
// name. Missing files are ignored.
func RemoveArtifacts(name string) error {
	var errs []error
	for _, ext := range artifactExts {
		if err := os.Remove(name + ext); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
