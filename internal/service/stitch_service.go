package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"survey/internal/etl"
	"survey/internal/storage"
)

// Events emitted by StitchService.
const (
	EventStage        = "stitch:stage"
	EventJobCompleted = "stitch:job-completed"
)

// watchDebounce is how long a watched directory must stay quiet before its job re-runs.
const watchDebounce = 500 * time.Millisecond

// StageEvent is the payload of EventStage.
type StageEvent struct {
	Job   string `json:"job"`
	Stage string `json:"stage"`
}

// ─────────────────────────────────────────────────────────────
// Stitch Service: runs configured aggregation jobs
// ─────────────────────────────────────────────────────────────

// StitchService runs aggregation jobs on demand, on a schedule, or when
// their watched directory changes.
type StitchService struct {
	jobs    []etl.Job
	runs    *storage.RunStore
	emitter EventEmitter
	logger  *zap.Logger
	running jobGuard

	// watcher / cron lifecycle
	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewStitchService creates a StitchService. runs may be nil, in which case
// run logs are not persisted.
func NewStitchService(jobs []etl.Job, runs *storage.RunStore, emitter EventEmitter, logger *zap.Logger) *StitchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = &LogEmitter{Logger: logger}
	}
	return &StitchService{
		jobs:    jobs,
		runs:    runs,
		emitter: emitter,
		logger:  logger,
	}
}

// ── Jobs ───────────────────────────────────────────────────

// ListJobs returns the configured jobs in configuration order.
func (s *StitchService) ListJobs() []etl.Job {
	return append([]etl.Job(nil), s.jobs...)
}

// GetJob returns the job called name.
func (s *StitchService) GetJob(name string) (*etl.Job, error) {
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			job := s.jobs[i]
			return &job, nil
		}
	}
	return nil, fmt.Errorf("unknown job %q", name)
}

// RunningSince reports when the active run of name started.
func (s *StitchService) RunningSince(name string) (time.Time, bool) {
	return s.running.Since(name)
}

// ListSources returns the available source descriptors.
func (s *StitchService) ListSources() []etl.SourceSpec {
	return etl.ListSources()
}

// ListRuns returns the most recent run logs. An empty job lists every job.
func (s *StitchService) ListRuns(ctx context.Context, job string, limit int) ([]etl.RunLog, error) {
	if s.runs == nil {
		return nil, nil
	}
	return s.runs.List(ctx, job, limit)
}

// PruneRuns deletes run logs that finished more than olderThan ago.
func (s *StitchService) PruneRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s.runs == nil {
		return 0, nil
	}
	return s.runs.Prune(ctx, time.Now().Add(-olderThan))
}

// ── Run ────────────────────────────────────────────────────

// RunJob executes the named job synchronously.
func (s *StitchService) RunJob(ctx context.Context, name string) (*etl.Result, error) {
	job, err := s.GetJob(name)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, job)
}

// Run executes job synchronously, records a run log and emits EventJobCompleted.
func (s *StitchService) Run(ctx context.Context, job *etl.Job) (*etl.Result, error) {
	// Prevent concurrent execution of the same job.
	if !s.running.TryLock(job.Name) {
		return nil, fmt.Errorf("job %s is already running", job.Name)
	}
	defer s.running.Unlock(job.Name)

	engine := &etl.Engine{
		Logger: s.logger,
		OnStage: func(name, stage string) {
			s.emitter.Emit(ctx, EventStage, StageEvent{Job: name, Stage: stage})
		},
	}

	start := time.Now()
	result, runErr := engine.Run(ctx, job)

	if s.runs != nil && result != nil {
		if err := s.runs.Create(context.WithoutCancel(ctx), result.RunLog(start)); err != nil {
			s.logger.Warn("record run log", zap.String("job", job.Name), zap.Error(err))
		}
	}
	if result != nil {
		s.emitter.Emit(ctx, EventJobCompleted, result)
	}
	return result, runErr
}

// ── Watchers (cron + directory watch) ─────────────────────

// RestartWatchers tears down the current watcher/cron and rebuilds them
// from the configured jobs.
func (s *StitchService) RestartWatchers(ctx context.Context) error {
	s.stopWatchers()

	s.mu.Lock()
	defer s.mu.Unlock()

	// ── Cron jobs ──
	var c *cron.Cron
	for _, j := range s.jobs {
		if j.Schedule == "" {
			continue
		}
		if c == nil {
			c = cron.New()
		}
		name := j.Name
		if _, err := c.AddFunc(j.Schedule, func() { s.trigger(ctx, name, "cron") }); err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", name, j.Schedule, err)
		}
	}
	if c != nil {
		c.Start()
		s.cronSched = c
		s.logger.Info("cron scheduled", zap.Int("entries", len(c.Entries())))
	}

	// ── Directory watchers ──
	dirToJobs := make(map[string][]string)
	for _, j := range s.jobs {
		if j.Watch == "" {
			continue
		}
		abs, err := filepath.Abs(j.Watch)
		if err != nil {
			return fmt.Errorf("job %s: bad watch path %q: %w", j.Name, j.Watch, err)
		}
		dirToJobs[abs] = append(dirToJobs[abs], j.Name)
	}
	if len(dirToJobs) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for dir := range dirToJobs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			watcher.Close()
			return fmt.Errorf("create watched dir: %w", err)
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %q: %w", dir, err)
		}
	}
	s.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	go s.watchLoop(watchCtx, watcher, dirToJobs)

	s.logger.Info("watching directories", zap.Int("dirs", len(dirToJobs)))
	return nil
}

func (s *StitchService) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, dirToJobs map[string][]string) {
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			abs, _ := filepath.Abs(event.Name)
			for _, name := range dirToJobs[filepath.Dir(abs)] {
				if t, exists := timers[name]; exists {
					t.Stop()
				}
				jobName := name
				timers[name] = time.AfterFunc(watchDebounce, func() {
					s.logger.Debug("watched file changed", zap.String("path", abs))
					s.trigger(ctx, jobName, "watch")
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// trigger runs a job from a background trigger, logging instead of returning errors.
func (s *StitchService) trigger(ctx context.Context, name, by string) {
	if ctx.Err() != nil {
		return
	}
	log := s.logger.With(zap.String("job", name), zap.String("trigger", by))
	log.Info("running job")
	res, err := s.RunJob(ctx, name)
	if err != nil {
		log.Error("job failed", zap.Error(err))
		return
	}
	log.Info("job finished", zap.String("summary", res.Summary()))
}

// WaitRunning blocks until all running jobs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *StitchService) WaitRunning(ctx context.Context) {
	s.running.WaitAll(ctx)
}

// Stop tears down all watchers and schedulers.
func (s *StitchService) Stop() {
	s.stopWatchers()
}

func (s *StitchService) stopWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		<-s.cronSched.Stop().Done()
		s.cronSched = nil
	}
}
