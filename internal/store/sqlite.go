package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/0xPuncker/batch-dispatcher/pkg/types"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

const (
	upsertTrigger = `INSERT INTO scheduled_triggers(name, grp, cron_expression, start_delay_ms, job_name, description, data, updated_at)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(name, grp) DO UPDATE SET
			cron_expression=excluded.cron_expression,
			start_delay_ms=excluded.start_delay_ms,
			job_name=excluded.job_name,
			description=excluded.description,
			data=excluded.data,
			updated_at=excluded.updated_at`

	insertTrigger = `INSERT INTO scheduled_triggers(name, grp, cron_expression, start_delay_ms, job_name, description, data, updated_at)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(name, grp) DO NOTHING`

	selectTriggers = `SELECT name, grp, cron_expression, start_delay_ms, job_name, description, data
		FROM scheduled_triggers ORDER BY grp, name`
)

// Store keeps trigger definitions in SQLite so they survive restarts.
// The same database is shared with jobs that need a datasource.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

func Open(path string, logger *logrus.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	inMemory := path == ":memory:" || strings.HasPrefix(path, "file:")
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !inMemory {
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
	}
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	s := New(db, logger)
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.WithField("path", path).Info("Trigger store opened")
	return s, nil
}

func New(db *sql.DB, logger *logrus.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate trigger store: %w", err)
	}
	return nil
}

// DB exposes the underlying pool to jobs sharing the datasource.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) LoadTriggers(ctx context.Context) ([]types.TriggerSpec, error) {
	rows, err := s.db.QueryContext(ctx, selectTriggers)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var specs []types.TriggerSpec
	for rows.Next() {
		var (
			spec    types.TriggerSpec
			delayMS int64
			data    string
		)
		if err := rows.Scan(&spec.Name, &spec.Group, &spec.CronExpression, &delayMS, &spec.JobName, &spec.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		spec.StartDelay = time.Duration(delayMS) * time.Millisecond

		if data != "" {
			if err := json.Unmarshal([]byte(data), &spec.Data); err != nil {
				return nil, fmt.Errorf("failed to decode data of trigger %s: %w", spec.Key(), err)
			}
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return specs, nil
}

// SaveTriggers writes specs in one transaction. Existing rows are updated when
// overwrite is set and left untouched otherwise.
func (s *Store) SaveTriggers(ctx context.Context, specs []types.TriggerSpec, overwrite bool) error {
	query := insertTrigger
	if overwrite {
		query = upsertTrigger
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, spec := range specs {
		data, err := encodeData(spec.Data)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to encode data of trigger %s: %w", spec.Key(), err)
		}

		if _, err := tx.ExecContext(ctx, query,
			spec.Name, spec.Group, spec.CronExpression, spec.StartDelay.Milliseconds(),
			spec.JobName, spec.Description, data, now,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to save trigger %s: %w", spec.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit triggers: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"count":     len(specs),
		"overwrite": overwrite,
	}).Debug("Triggers persisted")
	return nil
}

func encodeData(data map[string]string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
