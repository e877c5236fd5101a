package tracking

import (
	"sync"
	"time"

	"github.com/ahrav/jobtracker/internal/domain/tracking"
)

// syntheticCeiling is the highest value the estimate may show. The last stretch
// to 100 is reserved for a confirmed completion.
const syntheticCeiling = 95.0

// nextSyntheticProgress advances the estimate by a shrinking step.
func nextSyntheticProgress(p float64) float64 {
	var step float64
	switch {
	case p < 30:
		step = 4
	case p < 60:
		step = 2
	case p < 85:
		step = 1
	default:
		step = 0.25
	}

	next := p + step
	if next > syntheticCeiling {
		next = syntheticCeiling
	}
	return next
}

// ProgressEstimator fabricates a display-only progress value while a job has
// not reported any real progress yet. Its output is never persisted.
type ProgressEstimator struct {
	sched    Scheduler
	interval time.Duration
	onTick   func(progress int, stage string)

	mu      sync.Mutex
	value   float64
	started bool
	stopped bool
	cancel  CancelFunc
}

// NewProgressEstimator creates an estimator that reports every tick to onTick.
func NewProgressEstimator(sched Scheduler, interval time.Duration, onTick func(progress int, stage string)) *ProgressEstimator {
	return &ProgressEstimator{sched: sched, interval: interval, onTick: onTick}
}

// Start begins ticking and returns an idempotent stop function. Once stop
// returns no further tick is scheduled.
func (e *ProgressEstimator) Start() (stop func()) {
	e.mu.Lock()
	if !e.started && !e.stopped {
		e.started = true
		e.cancel = e.sched.Schedule(e.interval, e.tick)
	}
	e.mu.Unlock()

	return e.stop
}

// Progress returns the current estimate.
func (e *ProgressEstimator) Progress() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.value)
}

func (e *ProgressEstimator) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *ProgressEstimator) tick() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.value = nextSyntheticProgress(e.value)
	progress := int(e.value)
	e.cancel = e.sched.Schedule(e.interval, e.tick)
	e.mu.Unlock()

	if e.onTick != nil {
		e.onTick(progress, tracking.StageFor(progress))
	}
}
