package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"survey/internal/etl"
)

// RunStore persists run logs.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// Create stores a run log. An empty ID is filled with a new uuid.
func (s *RunStore) Create(ctx context.Context, log *etl.RunLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO run_logs (id, job, started_at, finished_at, status, processed, written, skipped, dropped, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Job, log.StartedAt.UTC(), log.FinishedAt.UTC(), log.Status,
		log.Processed, log.Written, log.Skipped, log.Dropped, log.Error,
	)
	return err
}

// List returns the newest logs first. An empty job lists every job.
func (s *RunStore) List(ctx context.Context, job string, limit int) ([]etl.RunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, job, started_at, finished_at, status, processed, written, skipped, dropped, error
		 FROM run_logs WHERE (? = '' OR job = ?) ORDER BY started_at DESC LIMIT ?`,
		job, job, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []etl.RunLog
	for rows.Next() {
		var l etl.RunLog
		if err := rows.Scan(&l.ID, &l.Job, &l.StartedAt, &l.FinishedAt, &l.Status,
			&l.Processed, &l.Written, &l.Skipped, &l.Dropped, &l.Error); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Prune deletes logs that finished before cutoff.
func (s *RunStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.conn.ExecContext(ctx, `DELETE FROM run_logs WHERE finished_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
