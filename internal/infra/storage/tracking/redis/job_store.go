// Package redis keeps job records as JSON documents in Redis, for deployments
// where the worker reports progress through a shared cache instead of SQL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/internal/infra/storage"
)

var _ tracking.JobRecordStore = (*JobStore)(nil)

const (
	jobKeyPrefix = "tracked_job:"
	// updateAttempts bounds optimistic-lock retries when a worker writes the
	// same record concurrently.
	updateAttempts = 5
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "redis"),
}

func jobKey(id uuid.UUID) string { return jobKeyPrefix + id.String() }

// ownerIndexKey names the sorted set of an owner's jobs of one kind, scored by
// creation time.
func ownerIndexKey(ownerID string, kind tracking.JobKind) string {
	return fmt.Sprintf("tracked_jobs:%s:%s", kind, ownerID)
}

// JobStore implements tracking.JobRecordStore on Redis.
type JobStore struct {
	client redis.UniversalClient
	clock  tracking.TimeProvider
	tracer trace.Tracer
	ttl    time.Duration
}

// Option configures a JobStore.
type Option func(*JobStore)

// WithTTL expires job records and owner indexes ttl after their last insert.
// Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *JobStore) { s.ttl = ttl }
}

// NewJobStore creates a Redis-backed job record store.
func NewJobStore(client redis.UniversalClient, clock tracking.TimeProvider, tracer trace.Tracer, opts ...Option) *JobStore {
	if clock == nil {
		clock = tracking.RealTimeProvider{}
	}
	s := &JobStore{client: client, clock: clock, tracer: tracer}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClient connects to addr and verifies the connection with a ping.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// GetJob loads the record for id.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*tracking.JobRecord, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	var rec *tracking.JobRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "redis.tracking.get_job", dbAttrs, func(ctx context.Context) error {
		var err error
		rec, err = s.loadJob(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// InsertJob writes a new record and indexes it under its owner.
func (s *JobStore) InsertJob(ctx context.Context, rec *tracking.JobRecord) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", rec.ID.String()),
		attribute.String("kind", rec.Kind.String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.tracking.insert_job", dbAttrs, func(ctx context.Context) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}

		created, err := s.client.SetNX(ctx, jobKey(rec.ID), data, s.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}
		if !created {
			return tracking.ErrDuplicateJob
		}

		indexKey := ownerIndexKey(rec.OwnerID, rec.Kind)
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, indexKey, redis.Z{
				Score:  float64(rec.CreatedAt.UnixMilli()),
				Member: rec.ID.String(),
			})
			if s.ttl > 0 {
				// Entries older than the TTL point at expired records.
				cutoff := rec.CreatedAt.Add(-s.ttl).UnixMilli()
				pipe.ZRemRangeByScore(ctx, indexKey, "-inf", fmt.Sprintf("(%d", cutoff))
				pipe.Expire(ctx, indexKey, s.ttl)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to index job: %w", err)
		}
		return nil
	})
}

// UpdateJob applies update under an optimistic lock on the record key.
func (s *JobStore) UpdateJob(ctx context.Context, id uuid.UUID, update tracking.JobUpdate) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.tracking.update_job", dbAttrs, func(ctx context.Context) error {
		return s.modify(ctx, id, func(rec *tracking.JobRecord) error {
			rec.Apply(update, s.clock.Now())
			return nil
		})
	})
}

// FailJob marks the record failed unless it already finished. The status is
// checked inside the same WATCH transaction that writes the failure.
func (s *JobStore) FailJob(ctx context.Context, id uuid.UUID, msg string) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", id.String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "redis.tracking.fail_job", dbAttrs, func(ctx context.Context) error {
		return s.modify(ctx, id, func(rec *tracking.JobRecord) error {
			if rec.Finished() {
				return tracking.ErrJobFinished
			}
			rec.Apply(tracking.FailedUpdate(msg), s.clock.Now())
			return nil
		})
	})
}

// modify reads the record for id, lets change edit it and writes it back,
// retrying when another writer touched the key in between. Errors returned by
// change abort the write and are passed through.
func (s *JobStore) modify(ctx context.Context, id uuid.UUID, change func(*tracking.JobRecord) error) error {
	key := jobKey(id)
	apply := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return tracking.ErrJobNotFound
		}
		if err != nil {
			return err
		}

		rec, err := decodeJob(data)
		if err != nil {
			return err
		}
		if err := change(rec); err != nil {
			return err
		}

		updated, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}

	for range updateAttempts {
		err := s.client.Watch(ctx, apply, key)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			continue
		case err == nil, errors.Is(err, tracking.ErrJobNotFound), errors.Is(err, tracking.ErrJobFinished):
			return err
		default:
			return fmt.Errorf("failed to update job: %w", err)
		}
	}
	return fmt.Errorf("failed to update job %s: too much contention", id)
}

// LatestJob returns the most recently created record for ownerID and kind.
// Index entries whose records have expired are pruned on the way.
func (s *JobStore) LatestJob(ctx context.Context, ownerID string, kind tracking.JobKind) (*tracking.JobRecord, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("owner_id", ownerID),
		attribute.String("kind", kind.String()),
	)

	var rec *tracking.JobRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "redis.tracking.latest_job", dbAttrs, func(ctx context.Context) error {
		indexKey := ownerIndexKey(ownerID, kind)
		for {
			ids, err := s.client.ZRevRange(ctx, indexKey, 0, 0).Result()
			if err != nil {
				return fmt.Errorf("failed to read owner index: %w", err)
			}
			if len(ids) == 0 {
				return tracking.ErrJobNotFound
			}

			id, err := uuid.Parse(ids[0])
			if err == nil {
				rec, err = s.loadJob(ctx, id)
				if !errors.Is(err, tracking.ErrJobNotFound) {
					return err
				}
			}

			// Unparsable or expired entry: drop it and look at the next one.
			if err := s.client.ZRem(ctx, indexKey, ids[0]).Err(); err != nil {
				return fmt.Errorf("failed to prune owner index: %w", err)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *JobStore) loadJob(ctx context.Context, id uuid.UUID) (*tracking.JobRecord, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, tracking.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decodeJob(data)
}

func decodeJob(data []byte) (*tracking.JobRecord, error) {
	var rec tracking.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &rec, nil
}
