package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
	"github.com/ahrav/jobtracker/pkg/common/logger"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testStart} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

func (c *fakeClock) Advance(d time.Duration) { c.set(c.Now().Add(d)) }

type scheduledTask struct {
	at        time.Time
	seq       int
	fn        func()
	cancelled bool
	ran       bool
}

// manualScheduler runs callbacks synchronously when the test advances time.
type manualScheduler struct {
	clock *fakeClock

	mu    sync.Mutex
	tasks []*scheduledTask
	seq   int
	// delays records every requested delay in order.
	delays []time.Duration
}

func newManualScheduler(clock *fakeClock) *manualScheduler {
	return &manualScheduler{clock: clock}
}

func (s *manualScheduler) Schedule(delay time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &scheduledTask{at: s.clock.Now().Add(delay), seq: s.seq, fn: fn}
	s.seq++
	s.tasks = append(s.tasks, task)
	s.delays = append(s.delays, delay)

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if task.cancelled || task.ran {
			return false
		}
		task.cancelled = true
		return true
	}
}

// Advance moves time forward by d, running every callback that falls due in
// order, including callbacks scheduled by earlier callbacks.
func (s *manualScheduler) Advance(d time.Duration) {
	target := s.clock.Now().Add(d)
	for {
		task := s.popDue(target)
		if task == nil {
			break
		}
		s.clock.set(task.at)
		task.fn()
	}
	s.clock.set(target)
}

// RunDue runs callbacks that are already due without moving time.
func (s *manualScheduler) RunDue() { s.Advance(0) }

func (s *manualScheduler) popDue(target time.Time) *scheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.cancelled && !t.ran {
			live = append(live, t)
		}
	}
	s.tasks = live
	if len(s.tasks) == 0 {
		return nil
	}

	sort.SliceStable(s.tasks, func(i, j int) bool {
		if s.tasks[i].at.Equal(s.tasks[j].at) {
			return s.tasks[i].seq < s.tasks[j].seq
		}
		return s.tasks[i].at.Before(s.tasks[j].at)
	})
	next := s.tasks[0]
	if next.at.After(target) {
		return nil
	}
	next.ran = true
	return next
}

// Pending returns the number of callbacks still waiting to run.
func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tasks {
		if !t.cancelled && !t.ran {
			n++
		}
	}
	return n
}

func (s *manualScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// fakeStore is an in-process JobRecordStore that counts reads and lets tests
// inject failures.
type fakeStore struct {
	clock tracking.TimeProvider

	mu          sync.Mutex
	jobs        map[uuid.UUID]*tracking.JobRecord
	getErrs     []error
	getCalls    int
	insertCalls int
	insertErr   error
	updateErr   error
	updates     []tracking.JobUpdate
	onGet       func(id uuid.UUID)
}

func newFakeStore(clock tracking.TimeProvider) *fakeStore {
	return &fakeStore{clock: clock, jobs: make(map[uuid.UUID]*tracking.JobRecord)}
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*tracking.JobRecord, error) {
	s.mu.Lock()
	s.getCalls++
	hook := s.onGet
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	rec, ok := s.jobs[id]
	rec = rec.Clone()
	s.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tracking.ErrJobNotFound
	}
	return rec, nil
}

func (s *fakeStore) InsertJob(_ context.Context, rec *tracking.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertCalls++
	if s.insertErr != nil {
		return s.insertErr
	}
	if _, ok := s.jobs[rec.ID]; ok {
		return tracking.ErrDuplicateJob
	}
	s.jobs[rec.ID] = rec.Clone()
	return nil
}

func (s *fakeStore) UpdateJob(_ context.Context, id uuid.UUID, u tracking.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.updates = append(s.updates, u)
	if s.updateErr != nil {
		return s.updateErr
	}
	rec, ok := s.jobs[id]
	if !ok {
		return tracking.ErrJobNotFound
	}
	rec.Apply(u, s.clock.Now())
	return nil
}

// FailJob mirrors the conditional write of the real stores: a finished record
// is never overwritten.
func (s *fakeStore) FailJob(_ context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := tracking.FailedUpdate(msg)
	s.updates = append(s.updates, u)
	if s.updateErr != nil {
		return s.updateErr
	}
	rec, ok := s.jobs[id]
	if !ok {
		return tracking.ErrJobNotFound
	}
	if rec.Finished() {
		return tracking.ErrJobFinished
	}
	rec.Apply(u, s.clock.Now())
	return nil
}

func (s *fakeStore) LatestJob(_ context.Context, ownerID string, kind tracking.JobKind) (*tracking.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *tracking.JobRecord
	for _, rec := range s.jobs {
		if rec.OwnerID != ownerID || rec.Kind != kind {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, tracking.ErrJobNotFound
	}
	return latest.Clone(), nil
}

func (s *fakeStore) put(rec *tracking.JobRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.ID] = rec.Clone()
}

func (s *fakeStore) remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// workerReports simulates the remote worker writing to the record.
func (s *fakeStore) workerReports(id uuid.UUID, u tracking.JobUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[id]; ok {
		rec.Apply(u, s.clock.Now())
	}
}

func (s *fakeStore) get(id uuid.UUID) *tracking.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Clone()
}

func (s *fakeStore) failNextReads(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErrs = append(s.getErrs, errs...)
}

func (s *fakeStore) reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func (s *fakeStore) recordedUpdates() []tracking.JobUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tracking.JobUpdate(nil), s.updates...)
}

type mockTrigger struct{ mock.Mock }

func (m *mockTrigger) TriggerJob(ctx context.Context, req tracking.TriggerRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

type mockPinger struct{ mock.Mock }

func (m *mockPinger) PingJob(ctx context.Context, kind tracking.JobKind, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, kind, id)
	return args.Bool(0), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []tracking.JobEvent
	err    error
}

func (p *recordingPublisher) PublishJobEvent(_ context.Context, evt tracking.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) published() []tracking.JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tracking.JobEvent(nil), p.events...)
}

// sequentialIDs hands out the given ids in order, then fresh random ones.
func sequentialIDs(ids ...uuid.UUID) func() uuid.UUID {
	var mu sync.Mutex
	return func() uuid.UUID {
		mu.Lock()
		defer mu.Unlock()
		if len(ids) == 0 {
			return uuid.New()
		}
		id := ids[0]
		ids = ids[1:]
		return id
	}
}

func noJitter(time.Duration) time.Duration { return 0 }

type testEnv struct {
	clock     *fakeClock
	sched     *manualScheduler
	store     *fakeStore
	trigger   *mockTrigger
	publisher *recordingPublisher
	cfg       Config
}

func newTestEnv() *testEnv {
	clock := newFakeClock()
	return &testEnv{
		clock:     clock,
		sched:     newManualScheduler(clock),
		store:     newFakeStore(clock),
		trigger:   new(mockTrigger),
		publisher: new(recordingPublisher),
		cfg:       DefaultConfig(),
	}
}

func (e *testEnv) deps() Dependencies {
	return Dependencies{
		Store:     e.store,
		Trigger:   e.trigger,
		Publisher: e.publisher,
		Scheduler: e.sched,
		Clock:     e.clock,
		Jitter:    noJitter,
		Logger:    logger.Noop(),
		Tracer:    noop.NewTracerProvider().Tracer("test"),
	}
}

func ptr[T any](v T) *T { return &v }

func progressUpdate(progress int) tracking.JobUpdate {
	return tracking.JobUpdate{Progress: ptr(progress), Stage: ptr(tracking.StageFor(progress))}
}

func completedUpdate(summary string, faqs ...tracking.FAQ) tracking.JobUpdate {
	return tracking.JobUpdate{
		Status:   ptr(tracking.JobStatusCompleted),
		Progress: ptr(100),
		Result:   &tracking.Result{Summary: summary, FAQs: faqs},
	}
}

func urlInput() tracking.Input { return tracking.Input{URL: "https://example.com/jobs/42"} }
