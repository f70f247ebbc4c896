package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/logging"
	"z88-quant/internal/metrics"
	"z88-quant/internal/models"
	"z88-quant/pkg/utils"
)

// ResilienceConfig tunes the rate limiter, circuit breaker and retry.
type ResilienceConfig struct {
	RatePerSecond   float64
	Burst           int
	MaxRetries      int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultResilienceConfig returns 3 req/s, 3 attempts, open after 5 failures for 30s.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		RatePerSecond:   3,
		Burst:           3,
		MaxRetries:      3,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Resilient wraps a provider with rate limiting, a circuit breaker and retries.
type Resilient struct {
	inner   SeriesProvider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retry   utils.RetryConfig
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// NewResilient wraps inner. m may be nil.
func NewResilient(inner SeriesProvider, cfg ResilienceConfig, m *metrics.Registry, logger zerolog.Logger) *Resilient {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	r := &Resilient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		metrics: m,
		logger:  logger,
	}

	r.retry = utils.DefaultRetryConfig()
	r.retry.MaxAttempts = cfg.MaxRetries
	r.retry.Retryable = retryable

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = DefaultResilienceConfig().BreakerFailures
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.metrics.SetBreakerState(name, int(to))
			r.logger.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	return r
}

func (r *Resilient) Name() string {
	return r.inner.Name()
}

// State returns the circuit breaker state.
func (r *Resilient) State() gobreaker.State {
	return r.breaker.State()
}

// History fetches through the limiter and breaker, retrying transient failures.
func (r *Resilient) History(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	start := time.Now()

	series, err := utils.RetryWithResult(ctx, r.retry, func() (models.PriceSeries, error) {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		out, err := r.breaker.Execute(func() (interface{}, error) {
			return r.inner.History(ctx, symbol, from, to)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, apperrors.Wrap(apperrors.ErrProviderDown, r.inner.Name()+": "+err.Error())
			}
			return nil, err
		}
		s, _ := out.(models.PriceSeries)
		return s, nil
	})

	elapsed := time.Since(start)
	result := metrics.FetchOK
	switch {
	case err != nil:
		result = metrics.FetchError
	case len(series) == 0:
		result = metrics.FetchEmpty
	}
	r.metrics.ObserveFetch(r.inner.Name(), result, elapsed)
	logging.LogFetch(r.logger, r.inner.Name(), symbol, len(series), elapsed, err)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.ErrTimeout, err.Error())
		}
		return nil, err
	}
	return series, nil
}

// retryable is false for errors another attempt cannot fix.
func retryable(err error) bool {
	switch {
	case errors.Is(err, apperrors.ErrDataNotFound),
		errors.Is(err, apperrors.ErrSymbolNotFound),
		errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, apperrors.ErrProviderDown),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
