// Package sqlite stores job records in a single-file SQLite database. It backs
// single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/internal/infra/storage"
)

var _ tracking.JobRecordStore = (*JobStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS tracked_jobs (
  id         TEXT PRIMARY KEY,
  owner_id   TEXT NOT NULL,
  kind       TEXT NOT NULL,
  status     TEXT NOT NULL,
  progress   INTEGER NOT NULL DEFAULT 0,
  stage      TEXT NOT NULL DEFAULT '',
  input      TEXT NOT NULL,
  result     TEXT,
  error      TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tracked_jobs_owner_kind_created
  ON tracked_jobs (owner_id, kind, created_at DESC);
`

const selectJobColumns = `
SELECT id, owner_id, kind, status, progress, stage, input, result, error, created_at, updated_at
FROM tracked_jobs`

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "sqlite"),
}

// JobStore implements tracking.JobRecordStore on SQLite. Timestamps are stored
// as unix milliseconds.
type JobStore struct {
	db     *sql.DB
	clock  tracking.TimeProvider
	tracer trace.Tracer
}

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string, clock tracking.TimeProvider, tracer trace.Tracer) (*JobStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}

	if clock == nil {
		clock = tracking.RealTimeProvider{}
	}
	return &JobStore{db: db, clock: clock, tracer: tracer}, nil
}

// Ping verifies the database is still reachable.
func (s *JobStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying database.
func (s *JobStore) Close() error { return s.db.Close() }

// GetJob loads the record for id.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*tracking.JobRecord, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	var rec *tracking.JobRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.tracking.get_job", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, selectJobColumns+" WHERE id = ?", id.String())

		var err error
		rec, err = scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return tracking.ErrJobNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// InsertJob writes a new record and fails with ErrDuplicateJob if the id is taken.
func (s *JobStore) InsertJob(ctx context.Context, rec *tracking.JobRecord) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", rec.ID.String()),
		attribute.String("kind", rec.Kind.String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.tracking.insert_job", dbAttrs, func(ctx context.Context) error {
		input, err := json.Marshal(rec.Input)
		if err != nil {
			return fmt.Errorf("failed to encode job input: %w", err)
		}
		result, err := encodeResult(rec.Result)
		if err != nil {
			return err
		}

		res, err := s.db.ExecContext(ctx,
			`INSERT INTO tracked_jobs (id, owner_id, kind, status, progress, stage, input, result, error, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			rec.ID.String(),
			rec.OwnerID,
			rec.Kind.String(),
			rec.Status,
			rec.Progress,
			rec.Stage,
			string(input),
			result,
			rec.Error,
			rec.CreatedAt.UnixMilli(),
			rec.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return tracking.ErrDuplicateJob
		}
		return nil
	})
}

// UpdateJob applies the non-nil fields of update.
func (s *JobStore) UpdateJob(ctx context.Context, id uuid.UUID, update tracking.JobUpdate) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.tracking.update_job", dbAttrs, func(ctx context.Context) error {
		sets := make([]string, 0, 6)
		args := make([]any, 0, 7)
		if update.Status != nil {
			sets = append(sets, "status = ?")
			args = append(args, update.Status.String())
		}
		if update.Progress != nil {
			sets = append(sets, "progress = ?")
			args = append(args, *update.Progress)
		}
		if update.Stage != nil {
			sets = append(sets, "stage = ?")
			args = append(args, *update.Stage)
		}
		if update.Result != nil {
			result, err := encodeResult(update.Result)
			if err != nil {
				return err
			}
			sets = append(sets, "result = ?")
			args = append(args, result)
		}
		if update.Error != nil {
			sets = append(sets, "error = ?")
			args = append(args, *update.Error)
		}
		sets = append(sets, "updated_at = ?")
		args = append(args, s.clock.Now().UnixMilli(), id.String())

		res, err := s.db.ExecContext(ctx,
			"UPDATE tracked_jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?",
			args...,
		)
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return tracking.ErrJobNotFound
		}
		return nil
	})
}

// FailJob marks the record failed unless it already finished.
func (s *JobStore) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.tracking.fail_job", dbAttrs, func(ctx context.Context) error {
		terminal := tracking.TerminalStatusTexts()
		args := make([]any, 0, len(terminal)+4)
		args = append(args, tracking.JobStatusFailed.String(), msg, s.clock.Now().UnixMilli(), id.String())
		for _, text := range terminal {
			args = append(args, text)
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE tracked_jobs SET status = ?, error = ?, updated_at = ?
			 WHERE id = ? AND lower(trim(status)) NOT IN (?`+strings.Repeat(", ?", len(terminal)-1)+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("failed to fail job: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n > 0 {
			return err
		}

		var exists bool
		if err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM tracked_jobs WHERE id = ?)", id.String()).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check job: %w", err)
		}
		if !exists {
			return tracking.ErrJobNotFound
		}
		return tracking.ErrJobFinished
	})
}

// LatestJob returns the most recently created record for ownerID and kind.
func (s *JobStore) LatestJob(ctx context.Context, ownerID string, kind tracking.JobKind) (*tracking.JobRecord, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("owner_id", ownerID),
		attribute.String("kind", kind.String()),
	)

	var rec *tracking.JobRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.tracking.latest_job", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx,
			selectJobColumns+" WHERE owner_id = ? AND kind = ? ORDER BY created_at DESC LIMIT 1",
			ownerID, kind.String(),
		)

		var err error
		rec, err = scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return tracking.ErrJobNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanJob(row *sql.Row) (*tracking.JobRecord, error) {
	var (
		id, kind, input      string
		result               sql.NullString
		createdMs, updatedMs int64
		rec                  tracking.JobRecord
	)
	if err := row.Scan(
		&id,
		&rec.OwnerID,
		&kind,
		&rec.Status,
		&rec.Progress,
		&rec.Stage,
		&input,
		&result,
		&rec.Error,
		&createdMs,
		&updatedMs,
	); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", id, err)
	}
	rec.ID = parsed
	rec.Kind = tracking.JobKind(kind)
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()

	if err := json.Unmarshal([]byte(input), &rec.Input); err != nil {
		return nil, fmt.Errorf("failed to decode job input: %w", err)
	}
	if result.Valid && result.String != "" {
		rec.Result = new(tracking.Result)
		if err := json.Unmarshal([]byte(result.String), rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
	}
	return &rec, nil
}

func encodeResult(r *tracking.Result) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode job result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
