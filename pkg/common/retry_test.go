package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/jobtracker/pkg/common/logger"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		MaxAttempts:     attempts,
	}
}

func TestConnectWithRetry_EventuallySucceeds(t *testing.T) {
	calls := 0
	got, err := ConnectWithRetry(context.Background(), logger.Noop(), "store", fastRetry(5),
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("connection refused")
			}
			return "connected", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "connected", got)
	assert.Equal(t, 3, calls)
}

func TestConnectWithRetry_GivesUp(t *testing.T) {
	calls := 0
	refused := errors.New("connection refused")
	_, err := ConnectWithRetry(context.Background(), logger.Noop(), "store", fastRetry(3),
		func(context.Context) (int, error) {
			calls++
			return 0, refused
		})

	require.ErrorIs(t, err, refused)
	assert.Contains(t, err.Error(), "store")
	assert.Equal(t, 3, calls)
}

func TestConnectWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := ConnectWithRetry(ctx, logger.Noop(), "store", RetryConfig{
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
		MaxElapsedTime:  time.Hour,
	}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
