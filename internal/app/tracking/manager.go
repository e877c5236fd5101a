package tracking

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/pkg/common/logger"
)

type trackerKey struct {
	ownerID string
	kind    tracking.JobKind
}

// Manager owns one Tracker per owner and job kind. Once a job has finished, a
// new submission for the same owner and kind replaces it in the tracker and
// the old record stays readable through the store. While a job is still
// processing, Submit fails with ErrJobInProgress.
//
// Trackers beyond Config.MaxTrackers are evicted when they hold no
// processing job.
type Manager struct {
	cfg    Config
	deps   Dependencies
	logger *logger.Logger

	mu       sync.Mutex
	trackers map[trackerKey]*Tracker
	closed   bool
}

// NewManager creates a Manager that builds trackers from cfg and deps.
func NewManager(cfg Config, deps Dependencies) *Manager {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With("component", "tracker_manager"),
		trackers: make(map[trackerKey]*Tracker),
	}
}

// Tracker returns the tracker for ownerID and kind, creating it if needed.
func (m *Manager) Tracker(ownerID string, kind tracking.JobKind) (*Tracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrTrackerClosed
	}

	key := trackerKey{ownerID: ownerID, kind: kind}
	t, ok := m.trackers[key]
	if !ok {
		if len(m.trackers) >= m.cfg.MaxTrackers {
			m.evictLocked()
		}
		t = NewTracker(ownerID, kind, m.cfg, m.deps)
		m.trackers[key] = t
	}
	return t, nil
}

// evictLocked closes and drops every tracker that is not following a
// processing job. Busy trackers are never evicted, so the map may still
// exceed MaxTrackers while many jobs run.
func (m *Manager) evictLocked() {
	evicted := 0
	for key, t := range m.trackers {
		if !t.idle() {
			continue
		}
		t.Close()
		delete(m.trackers, key)
		evicted++
	}
	m.logger.Debug(context.Background(), "Evicted idle trackers",
		"evicted", evicted,
		"remaining", len(m.trackers),
	)
}

// Submit starts a new job for ownerID. Invalid input and a missing owner are
// rejected before any tracker is created.
func (m *Manager) Submit(ctx context.Context, ownerID string, kind tracking.JobKind, input tracking.Input) (Snapshot, error) {
	if err := tracking.ValidateSubmission(kind, input); err != nil {
		return Snapshot{}, err
	}
	if strings.TrimSpace(ownerID) == "" {
		return Snapshot{}, tracking.ErrAuth
	}

	for {
		t, err := m.Tracker(ownerID, kind)
		if err != nil {
			return Snapshot{}, err
		}
		_, err = t.Submit(ctx, input)
		switch {
		case errors.Is(err, ErrTrackerClosed):
			// Evicted between lookup and submit.
			continue
		case err != nil:
			return Snapshot{}, err
		}
		return t.Snapshot(), nil
	}
}

// Job returns the view of a job owned by ownerID. A processing job that no
// tracker follows is resumed, provided its owner's tracker is free.
func (m *Manager) Job(ctx context.Context, ownerID string, id uuid.UUID) (Snapshot, error) {
	if t := m.trackerForJob(ownerID, id); t != nil {
		return t.Snapshot(), nil
	}

	rec, err := m.deps.Store.GetJob(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if rec.OwnerID != ownerID {
		return Snapshot{}, tracking.ErrJobNotFound
	}
	return m.attach(ctx, rec)
}

// Latest returns the most recent job of a kind for ownerID.
func (m *Manager) Latest(ctx context.Context, ownerID string, kind tracking.JobKind) (Snapshot, error) {
	m.mu.Lock()
	t, ok := m.trackers[trackerKey{ownerID: ownerID, kind: kind}]
	m.mu.Unlock()
	if ok {
		if snap := t.Snapshot(); snap.Status != tracking.JobStatusIdle {
			return snap, nil
		}
	}

	rec, err := m.deps.Store.LatestJob(ctx, ownerID, kind)
	if err != nil {
		return Snapshot{}, err
	}
	return m.attach(ctx, rec)
}

// Cancel cancels a processing job owned by ownerID.
func (m *Manager) Cancel(ctx context.Context, ownerID string, id uuid.UUID) (Snapshot, error) {
	t, err := m.trackerAttachedTo(ctx, ownerID, id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := t.Cancel(ctx); err != nil {
		return Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// Retry resubmits the input of a finished job owned by ownerID.
func (m *Manager) Retry(ctx context.Context, ownerID string, id uuid.UUID) (Snapshot, error) {
	t, err := m.trackerAttachedTo(ctx, ownerID, id)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := t.Retry(ctx); err != nil {
		return Snapshot{}, err
	}
	return t.Snapshot(), nil
}

// Close tears down every tracker. No timers outlive the manager.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	n := len(m.trackers)
	for key, t := range m.trackers {
		t.Close()
		delete(m.trackers, key)
	}
	m.logger.Info(context.Background(), "Tracker manager closed", "trackers", n)
}

func (m *Manager) trackerForJob(ownerID string, id uuid.UUID) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, t := range m.trackers {
		if key.ownerID == ownerID && t.Snapshot().JobID == id {
			return t
		}
	}
	return nil
}

// trackerAttachedTo returns the owner's tracker following id, resuming the job
// when no tracker follows it yet.
func (m *Manager) trackerAttachedTo(ctx context.Context, ownerID string, id uuid.UUID) (*Tracker, error) {
	if t := m.trackerForJob(ownerID, id); t != nil {
		return t, nil
	}

	rec, err := m.deps.Store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, tracking.ErrJobNotFound
	}

	t, err := m.Tracker(ownerID, rec.Kind)
	if err != nil {
		return nil, err
	}
	if err := t.Resume(ctx, id); err != nil {
		return nil, err
	}
	return t, nil
}

// attach resumes rec on its owner's tracker when that tracker is free, and
// otherwise returns a read-only view of the record.
func (m *Manager) attach(ctx context.Context, rec *tracking.JobRecord) (Snapshot, error) {
	outcome := tracking.Reduce(rec)
	view := SnapshotFromOutcome(rec.ID, rec.Kind, outcome)
	if outcome.IsTerminal {
		return view, nil
	}

	t, err := m.Tracker(rec.OwnerID, rec.Kind)
	if err != nil {
		return Snapshot{}, err
	}
	switch err := t.Resume(ctx, rec.ID); {
	case err == nil:
		return t.Snapshot(), nil
	case errors.Is(err, tracking.ErrJobInProgress):
		// The owner is busy with a newer job; show this one as stored.
		return view, nil
	default:
		return Snapshot{}, err
	}
}
