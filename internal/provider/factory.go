package provider

import (
	"strings"

	"github.com/rs/zerolog"

	"z88-quant/internal/config"
	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/metrics"
	"z88-quant/internal/models"
)

// FromConfig builds the configured provider chain: the upstream source wrapped
// in Resilient and, when st is non-nil, in store read-through.
func FromConfig(cfg *config.Config, st SeriesStore, m *metrics.Registry, logger zerolog.Logger) (SeriesProvider, error) {
	exchange := models.Exchange(cfg.Provider.Exchange)

	var upstream SeriesProvider
	switch {
	case cfg.IsKite():
		kite, err := NewKiteProvider(cfg.Credentials.Kite.APIKey, cfg.Credentials.Kite.AccessToken, exchange)
		if err != nil {
			return nil, err
		}
		upstream = kite
	case strings.EqualFold(cfg.Provider.Kind, "csv"):
		upstream = NewCSVProvider(cfg.Provider.CSVDir)
	default:
		return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "unknown provider %q", cfg.Provider.Kind)
	}

	var p SeriesProvider = NewResilient(upstream, ResilienceConfig{
		RatePerSecond:   cfg.Provider.RatePerSecond,
		Burst:           cfg.Provider.Burst,
		MaxRetries:      cfg.Provider.MaxRetries,
		BreakerFailures: cfg.Provider.BreakerFailures,
		BreakerCooldown: cfg.Provider.BreakerCooldown,
	}, m, logger)

	if st != nil {
		p = NewStoreProvider(p, st, exchange, logger)
	}
	return p, nil
}

// FindResilient returns the Resilient layer of a provider chain built by FromConfig.
func FindResilient(p SeriesProvider) (*Resilient, bool) {
	for {
		switch v := p.(type) {
		case *Resilient:
			return v, true
		case *StoreProvider:
			p = v.upstream
		default:
			return nil, false
		}
	}
}
