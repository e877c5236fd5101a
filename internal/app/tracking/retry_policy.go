package tracking

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff"
)

// JitterFunc returns a random delay in [0, max].
type JitterFunc func(max time.Duration) time.Duration

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// retryPolicy computes the wait after the n-th consecutive read failure:
// min(maxBackoff, 2^n * 1s) plus up to maxJitter of jitter.
type retryPolicy struct {
	backoff   *backoff.ExponentialBackOff
	maxJitter time.Duration
	jitter    JitterFunc
}

func newRetryPolicy(maxBackoff, maxJitter time.Duration, jitter JitterFunc) *retryPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	if jitter == nil {
		jitter = randomJitter
	}
	return &retryPolicy{backoff: b, maxJitter: maxJitter, jitter: jitter}
}

// next returns the delay before the next attempt and advances the schedule.
func (p *retryPolicy) next() time.Duration {
	d := p.backoff.NextBackOff()
	if d == backoff.Stop || d > p.backoff.MaxInterval {
		d = p.backoff.MaxInterval
	}

	j := p.jitter(p.maxJitter)
	if j > p.maxJitter {
		j = p.maxJitter
	}
	if j < 0 {
		j = 0
	}
	return d + j
}

// reset restarts the schedule after a successful read.
func (p *retryPolicy) reset() { p.backoff.Reset() }
