package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/internal/infra/storage"
)

// jobStore implements tracking.JobRecordStore on the tracked_jobs table. The
// remote worker writes progress into the same table.
var _ tracking.JobRecordStore = (*jobStore)(nil)

type jobStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a PostgreSQL-backed job record store with tracing.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *jobStore {
	return &jobStore{db: pool, tracer: tracer}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const selectJobColumns = `
SELECT id, owner_id, kind, status, progress, stage, input, result, error, created_at, updated_at
FROM tracked_jobs`

const insertJobSQL = `
INSERT INTO tracked_jobs (id, owner_id, kind, status, progress, stage, input, result, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`

// updateJobSQL leaves a column untouched when its parameter is NULL.
const updateJobSQL = `
UPDATE tracked_jobs SET
	status     = COALESCE($2, status),
	progress   = COALESCE($3, progress),
	stage      = COALESCE($4, stage),
	result     = COALESCE($5, result),
	error      = COALESCE($6, error),
	updated_at = NOW()
WHERE id = $1`

// failJobSQL only touches a record whose status text is not terminal.
const failJobSQL = `
UPDATE tracked_jobs SET
	status     = $2,
	error      = $3,
	updated_at = NOW()
WHERE id = $1 AND NOT (lower(btrim(status)) = ANY($4))`

// GetJob loads the record for id.
func (s *jobStore) GetJob(ctx context.Context, id uuid.UUID) (*tracking.JobRecord, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	var rec *tracking.JobRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.tracking.get_job", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx, selectJobColumns+" WHERE id = $1", pgtype.UUID{Bytes: id, Valid: true})

		var err error
		rec, err = scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return tracking.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// InsertJob writes a new record and fails with ErrDuplicateJob if the id is taken.
func (s *jobStore) InsertJob(ctx context.Context, rec *tracking.JobRecord) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", rec.ID.String()),
		attribute.String("kind", rec.Kind.String()),
		attribute.String("status", rec.Status),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.tracking.insert_job", dbAttrs, func(ctx context.Context) error {
		input, err := json.Marshal(rec.Input)
		if err != nil {
			return fmt.Errorf("failed to encode job input: %w", err)
		}
		result, err := encodeResult(rec.Result)
		if err != nil {
			return err
		}

		tag, err := s.db.Exec(ctx, insertJobSQL,
			pgtype.UUID{Bytes: rec.ID, Valid: true},
			rec.OwnerID,
			rec.Kind.String(),
			rec.Status,
			int32(rec.Progress),
			rec.Stage,
			input,
			result,
			rec.Error,
			pgtype.Timestamptz{Time: rec.CreatedAt, Valid: true},
			pgtype.Timestamptz{Time: rec.UpdatedAt, Valid: true},
		)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return tracking.ErrDuplicateJob
		}
		return nil
	})
}

// UpdateJob applies the non-nil fields of update.
func (s *jobStore) UpdateJob(ctx context.Context, id uuid.UUID, update tracking.JobUpdate) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))
	if update.Status != nil {
		dbAttrs = append(dbAttrs, attribute.String("status", update.Status.String()))
	}

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.tracking.update_job", dbAttrs, func(ctx context.Context) error {
		var status, stage, errText pgtype.Text
		var progress pgtype.Int4
		if update.Status != nil {
			status = pgtype.Text{String: update.Status.String(), Valid: true}
		}
		if update.Progress != nil {
			progress = pgtype.Int4{Int32: int32(*update.Progress), Valid: true}
		}
		if update.Stage != nil {
			stage = pgtype.Text{String: *update.Stage, Valid: true}
		}
		if update.Error != nil {
			errText = pgtype.Text{String: *update.Error, Valid: true}
		}
		result, err := encodeResult(update.Result)
		if err != nil {
			return err
		}

		tag, err := s.db.Exec(ctx, updateJobSQL,
			pgtype.UUID{Bytes: id, Valid: true},
			status,
			progress,
			stage,
			result,
			errText,
		)
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return tracking.ErrJobNotFound
		}
		return nil
	})
}

// FailJob marks the record failed unless it already finished.
func (s *jobStore) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.tracking.fail_job", dbAttrs, func(ctx context.Context) error {
		pgID := pgtype.UUID{Bytes: id, Valid: true}
		tag, err := s.db.Exec(ctx, failJobSQL,
			pgID,
			tracking.JobStatusFailed.String(),
			msg,
			tracking.TerminalStatusTexts(),
		)
		if err != nil {
			return fmt.Errorf("failed to fail job: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		var exists bool
		if err := s.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM tracked_jobs WHERE id = $1)", pgID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check job: %w", err)
		}
		if !exists {
			return tracking.ErrJobNotFound
		}
		return tracking.ErrJobFinished
	})
}

// LatestJob returns the most recently created record for ownerID and kind.
func (s *jobStore) LatestJob(ctx context.Context, ownerID string, kind tracking.JobKind) (*tracking.JobRecord, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("owner_id", ownerID),
		attribute.String("kind", kind.String()),
	)

	var rec *tracking.JobRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.tracking.latest_job", dbAttrs, func(ctx context.Context) error {
		row := s.db.QueryRow(ctx,
			selectJobColumns+" WHERE owner_id = $1 AND kind = $2 ORDER BY created_at DESC LIMIT 1",
			ownerID, kind.String(),
		)

		var err error
		rec, err = scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return tracking.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get latest job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanJob(row pgx.Row) (*tracking.JobRecord, error) {
	var (
		id                   pgtype.UUID
		kind                 string
		progress             int32
		input, result        []byte
		createdAt, updatedAt pgtype.Timestamptz
		rec                  tracking.JobRecord
	)
	if err := row.Scan(
		&id,
		&rec.OwnerID,
		&kind,
		&rec.Status,
		&progress,
		&rec.Stage,
		&input,
		&result,
		&rec.Error,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	rec.ID = id.Bytes
	rec.Kind = tracking.JobKind(kind)
	rec.Progress = int(progress)
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time

	if err := json.Unmarshal(input, &rec.Input); err != nil {
		return nil, fmt.Errorf("failed to decode job input: %w", err)
	}
	if len(result) > 0 {
		rec.Result = new(tracking.Result)
		if err := json.Unmarshal(result, rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
	}
	return &rec, nil
}

// encodeResult returns nil for a nil result so the column stays NULL.
func encodeResult(r *tracking.Result) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job result: %w", err)
	}
	return data, nil
}
