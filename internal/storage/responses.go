package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"survey/internal/domain"
)

// Response store methods.
const (
	MethodDisk   = "disk"
	MethodSQLite = "sqlite"
	MethodOff    = "off"
)

// ManifestSuffix is appended to the tag to name a store's index manifest.
const ManifestSuffix = ".index.manifest"

// ResponseStore persists collected submissions.
type ResponseStore interface {
	Write(ctx context.Context, sub *domain.Submission) error
}

// StoreOptions carries what the individual stores need.
type StoreOptions struct {
	Dir    string
	DB     *DB
	Logger *zap.Logger
}

// NewResponseStore selects the store for method.
func NewResponseStore(method string, opts StoreOptions) (ResponseStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	switch method {
	case MethodDisk, "":
		if opts.Dir == "" {
			return nil, fmt.Errorf("disk store: no directory")
		}
		return &DiskStore{Dir: opts.Dir, logger: logger}, nil
	case MethodSQLite:
		if opts.DB == nil {
			return nil, fmt.Errorf("sqlite store: no database")
		}
		return &SQLiteStore{db: opts.DB, logger: logger}, nil
	case MethodOff:
		return OffStore{}, nil
	}
	return nil, fmt.Errorf("unknown output method %q (disk, sqlite, off)", method)
}

// prepare fills the submission's generated fields.
func prepare(sub *domain.Submission) error {
	if sub.Tag == "" {
		return fmt.Errorf("submission has no tag")
	}
	if sub.Data == nil {
		sub.Data = domain.NewRawRecord()
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.ReceivedAt.IsZero() {
		sub.ReceivedAt = time.Now()
	}
	return nil
}

// ── Disk ───────────────────────────────────────────────────

// DiskStore writes one JSON file per submission into Dir and keeps the
// tag's index manifest next to them.
type DiskStore struct {
	Dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

func (s *DiskStore) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// FileName returns the stored name of a submission, without extension.
func FileName(sub *domain.Submission) string {
	nonce := sub.ID
	if len(nonce) > 6 {
		nonce = nonce[:6]
	}
	raw := strings.ToLower(fmt.Sprintf("%s_%s_%s", sub.Client, nonce, sub.Session))
	var b strings.Builder
	for _, c := range raw {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteRune(c)
		}
	}
	ts := sub.ReceivedAt.Format("2006-01-02T15-04-05")
	return fmt.Sprintf("%s_%s_%s_%s", sub.Tag, ts, sub.Mode, b.String())
}

// ManifestPath returns the manifest file for tag.
func (s *DiskStore) ManifestPath(tag string) string {
	return filepath.Join(s.Dir, tag+ManifestSuffix)
}

// Manifest reads the tag's manifest. A missing file is an empty manifest.
func (s *DiskStore) Manifest(tag string) (*domain.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readManifest(tag)
}

func (s *DiskStore) readManifest(tag string) (*domain.Manifest, error) {
	data, err := os.ReadFile(s.ManifestPath(tag))
	if errors.Is(err, os.ErrNotExist) {
		return &domain.Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return domain.ParseManifest(data)
}

// Write stores the submission and reindexes the tag's manifest.
func (s *DiskStore) Write(ctx context.Context, sub *domain.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := prepare(sub); err != nil {
		return err
	}

	data := sub.Data.Clone()
	data.Set(domain.KeyClient, domain.Single(sub.Client))
	if sub.Session != "" && !data.Has(domain.KeySession) {
		data.Set(domain.KeySession, domain.Single(sub.Session))
	}
	data.Set(domain.KeyTimestamp, domain.Single(sub.ReceivedAt.Format("2006-01-02T15-04-05")))
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	name := FileName(sub)
	f, err := os.OpenFile(filepath.Join(s.Dir, name+".json"), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create response file: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return fmt.Errorf("write response file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	m, err := s.readManifest(sub.Tag)
	if err != nil {
		// The response is kept; only the index is stale.
		s.log().Error("corrupt index", zap.String("tag", sub.Tag), zap.Error(err))
		return err
	}
	if !m.Reindex(sub.Client, name, sub.Mode) {
		s.log().Debug("kept saved entry", zap.String("client", sub.Client), zap.String("file", name))
		return nil
	}
	out, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.ManifestPath(sub.Tag), out, 0644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if sub.Mode == domain.SaveMode {
		s.log().Info("save", zap.String("file", name))
	}
	return nil
}

// ── SQLite ─────────────────────────────────────────────────

// SQLiteStore writes submissions to the responses table.
type SQLiteStore struct {
	db     *DB
	logger *zap.Logger
}

func (s *SQLiteStore) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Write inserts one row.
func (s *SQLiteStore) Write(ctx context.Context, sub *domain.Submission) error {
	if err := prepare(sub); err != nil {
		return err
	}
	body, err := json.Marshal(sub.Data)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx,
		`INSERT INTO responses (id, tag, client, session, mode, results, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Tag, sub.Client, sub.Session, sub.Mode, string(body), sub.ReceivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	s.log().Debug("stored response", zap.String("id", sub.ID), zap.String("tag", sub.Tag))
	return nil
}

// List returns the stored submissions for tag, oldest first.
func (s *SQLiteStore) List(ctx context.Context, tag string) ([]domain.Submission, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, tag, client, session, mode, results, created_at FROM responses
		 WHERE tag = ? ORDER BY created_at, id`, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Submission
	for rows.Next() {
		var sub domain.Submission
		var results string
		if err := rows.Scan(&sub.ID, &sub.Tag, &sub.Client, &sub.Session, &sub.Mode, &results, &sub.ReceivedAt); err != nil {
			return nil, err
		}
		rec, err := domain.ParseRawRecord([]byte(results))
		if err != nil {
			return nil, fmt.Errorf("response %s: %w", sub.ID, err)
		}
		sub.Data = rec
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ── Off ────────────────────────────────────────────────────

// OffStore discards submissions.
type OffStore struct{}

// Write does nothing.
func (OffStore) Write(context.Context, *domain.Submission) error { return nil }
