package tracking

import "time"

// Config tunes polling, backoff, stall detection and the synthetic progress
// estimate.
type Config struct {
	// Interval between polls while a job is processing.
	Interval time.Duration
	// ReadTimeout bounds each store read and liveness ping.
	ReadTimeout time.Duration
	// WriteTimeout bounds the best-effort failure writes.
	WriteTimeout time.Duration
	// MaxRetries consecutive read failures fail the job locally.
	MaxRetries int
	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration
	// MaxJitter is the largest random delay added to a retry.
	MaxJitter time.Duration
	// NotFoundTolerance is how many consecutive missing reads are tolerated.
	NotFoundTolerance int
	// MaxRuntime is the longest a job may stay processing since creation.
	MaxRuntime time.Duration
	// IdleTimeout is the longest a job may go without a record update.
	IdleTimeout time.Duration
	// EstimatorInterval is the tick of the synthetic progress estimate.
	EstimatorInterval time.Duration
	// MaxTrackers is how many trackers a Manager keeps before it evicts idle
	// and finished ones.
	MaxTrackers int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxRetries:        5,
		MaxBackoff:        30 * time.Second,
		MaxJitter:         time.Second,
		NotFoundTolerance: 2,
		MaxRuntime:        30 * time.Minute,
		IdleTimeout:       10 * time.Minute,
		EstimatorInterval: time.Second,
		MaxTrackers:       1024,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	}
	if c.NotFoundTolerance < 0 {
		c.NotFoundTolerance = 0
	}
	if c.MaxRuntime <= 0 {
		c.MaxRuntime = d.MaxRuntime
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.EstimatorInterval <= 0 {
		c.EstimatorInterval = d.EstimatorInterval
	}
	if c.MaxTrackers <= 0 {
		c.MaxTrackers = d.MaxTrackers
	}
	return c
}
