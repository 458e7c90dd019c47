package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yield-vault/internal/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func unresponsive() error {
	return apperrors.NewStrategyUnresponsiveError("0x01", "harvest", errors.New("connection refused"))
}

func TestDo_SucceedsAfterRetryableFailures(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return unresponsive()
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
	assert.NoError(t, result.LastError)
}

func TestDo_StopsOnNonRetryableError(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		return apperrors.NewInvalidAmountError("amount", "must be positive")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.LastError, apperrors.ErrInvalidAmount)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	result := Do(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		return unresponsive()
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.ErrorIs(t, result.LastError, apperrors.ErrStrategyUnresponsive)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 1}

	result := Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		cancel()
		return unresponsive()
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestDo_CustomShouldRetry(t *testing.T) {
	cfg := fastConfig(4)
	cfg.ShouldRetry = func(error) bool { return true }

	result := Do(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		return errors.New("plain")
	})
	assert.Equal(t, 4, result.Attempts)
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(cfg, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRun_WrapsLastError(t *testing.T) {
	err := Run(context.Background(), fastConfig(2), func(ctx context.Context, attempt int) error {
		return unresponsive()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStrategyUnresponsive)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
