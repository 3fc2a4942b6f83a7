package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	perrors "github.com/p-blackswan/ideabot/internal/errors"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return perrors.ErrAuthFailure
	})
	assert.ErrorIs(t, err, perrors.ErrAuthFailure)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryableError_EventualSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return perrors.ErrTimeout
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_RetryableError_AllFail(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(2), func(ctx context.Context) error {
		calls++
		return perrors.NewAPIError("telegram", 502, "bad gateway")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_RetryAfterHintIsCapped(t *testing.T) {
	var delays []time.Duration
	cfg := fastConfig(2)
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		delays = append(delays, delay)
	}
	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &perrors.APIError{Service: "telegram", StatusCode: 429, Message: "Too Many Requests", RetryAfter: time.Hour}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, delays)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastConfig(3), func(ctx context.Context) error {
		return perrors.ErrTimeout
	})
	assert.Error(t, err)
}

func TestDo_GenericNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return errors.New("generic error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
