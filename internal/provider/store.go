package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"z88-quant/internal/models"
	"z88-quant/pkg/utils"
)

// SeriesStore is the part of the store the read-through provider needs.
type SeriesStore interface {
	SaveSeries(ctx context.Context, symbol, source string, series models.PriceSeries) error
	GetSeries(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error)
	LatestBarDate(ctx context.Context, symbol string) (time.Time, bool, error)
}

// StoreProvider serves series from the store and refreshes them from an
// upstream provider when the newest stored bar predates the last completed session.
type StoreProvider struct {
	upstream SeriesProvider
	store    SeriesStore
	session  utils.Session
	logger   zerolog.Logger
	now      func() time.Time
}

// NewStoreProvider wraps upstream with store read-through.
func NewStoreProvider(upstream SeriesProvider, store SeriesStore, exchange models.Exchange, logger zerolog.Logger) *StoreProvider {
	return &StoreProvider{
		upstream: upstream,
		store:    store,
		session:  utils.SessionFor(exchange),
		logger:   logger,
		now:      time.Now,
	}
}

func (p *StoreProvider) Name() string {
	return "store+" + p.upstream.Name()
}

// History returns stored bars when fresh, otherwise fetches, saves and re-reads.
// If the upstream fails and the store holds bars, the stale bars are served.
func (p *StoreProvider) History(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	symbol = models.NormalizeSymbol(symbol)

	latest, ok, err := p.store.LatestBarDate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if ok && !latest.Before(p.session.LastCompletedSession(p.now())) {
		return p.store.GetSeries(ctx, symbol, from, to)
	}

	fetchFrom := from
	if ok && latest.After(from) {
		fetchFrom = latest
	}
	fresh, fetchErr := p.upstream.History(ctx, symbol, fetchFrom, to)
	if fetchErr != nil {
		if !ok {
			return nil, fetchErr
		}
		p.logger.Warn().Err(fetchErr).Str("symbol", symbol).Time("latest", latest).
			Msg("Upstream fetch failed, serving stored series")
		return p.store.GetSeries(ctx, symbol, from, to)
	}

	if err := p.store.SaveSeries(ctx, symbol, p.upstream.Name(), fresh); err != nil {
		return nil, err
	}
	return p.store.GetSeries(ctx, symbol, from, to)
}
