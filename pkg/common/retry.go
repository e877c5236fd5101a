package common

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ahrav/jobtracker/pkg/common/logger"
)

// RetryConfig bounds ConnectWithRetry.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	// MaxAttempts caps the number of tries. Zero means only time bounds apply.
	MaxAttempts int
}

// DefaultRetryConfig retries for up to 5 minutes, starting with 5 second
// intervals.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 5 * time.Second,
		MaxInterval:     time.Minute,
		MaxElapsedTime:  5 * time.Minute,
	}
}

// ConnectWithRetry calls connect with exponential backoff until it succeeds,
// the retry budget is spent or ctx is cancelled. It smooths over backing
// services that are still starting when the process boots.
func ConnectWithRetry[T any](
	ctx context.Context,
	log *logger.Logger,
	name string,
	cfg RetryConfig,
	connect func(ctx context.Context) (T, error),
) (T, error) {
	var conn T

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = cfg.InitialInterval
	expBackoff.MaxInterval = cfg.MaxInterval
	expBackoff.MaxElapsedTime = cfg.MaxElapsedTime

	var policy backoff.BackOff = expBackoff
	if cfg.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(cfg.MaxAttempts-1))
	}
	policy = backoff.WithContext(policy, ctx)

	operation := func() error {
		var err error
		conn, err = connect(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn(ctx, "Connection attempt failed, will retry", "target", name, "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to connect to %s after retries: %w", name, err)
	}
	return conn, nil
}
