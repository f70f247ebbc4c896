package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z88-quant/internal/models"
)

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "0.50", FormatPrice(0.5))
	assert.Equal(t, "999.00", FormatPrice(999))
	assert.Equal(t, "1,234.57", FormatPrice(1234.567))
	assert.Equal(t, "-12,345,678.00", FormatPrice(-12345678))
	assert.Equal(t, "-", FormatOptionalPrice(nil))
}

func TestFormatVolume(t *testing.T) {
	assert.Equal(t, "950", FormatVolume(950))
	assert.Equal(t, "1.5K", FormatVolume(1500))
	assert.Equal(t, "2.50M", FormatVolume(2_500_000))
	assert.Equal(t, "+1.25%", FormatPercent(1.25))
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) }}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResult_EventuallySucceeds(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}

	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, BackoffFactor: 1}

	err := Retry(ctx, cfg, func() error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, CalculateBackoff(10, 100*time.Millisecond, time.Second, 2))
}

func TestLastCompletedSession(t *testing.T) {
	egx := SessionFor(models.EGX)
	cairo := egx.Location

	// Thursday after the close: Thursday itself.
	thu := time.Date(2024, 6, 6, 16, 0, 0, 0, cairo)
	assert.Equal(t, time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC), egx.LastCompletedSession(thu))

	// Saturday: back to Thursday.
	sat := time.Date(2024, 6, 8, 12, 0, 0, 0, cairo)
	assert.Equal(t, time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC), egx.LastCompletedSession(sat))

	// Sunday before the close: back to Thursday.
	sun := time.Date(2024, 6, 9, 11, 0, 0, 0, cairo)
	assert.Equal(t, time.Date(2024, 6, 6, 0, 0, 0, 0, time.UTC), egx.LastCompletedSession(sun))
	assert.True(t, egx.IsOpen(sun))
	assert.False(t, egx.IsOpen(sat))
}

func TestSessionFor_India(t *testing.T) {
	nse := SessionFor(models.NSE)
	kolkata := nse.Location

	sat := time.Date(2024, 6, 8, 11, 0, 0, 0, kolkata)
	assert.False(t, nse.IsTradingDay(sat))
	assert.False(t, nse.IsOpen(sat))

	// Monday after the close; the prior Friday before the open.
	mon := time.Date(2024, 6, 10, 16, 0, 0, 0, kolkata)
	if nse.IsTradingDay(mon) {
		assert.Equal(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), nse.LastCompletedSession(mon))
	}
	assert.Equal(t, 9*60+15, nse.OpenMinute)
}
