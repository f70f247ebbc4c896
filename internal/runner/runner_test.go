package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z88-quant/internal/analysis"
	"z88-quant/internal/config"
	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/metrics"
	"z88-quant/internal/models"
	"z88-quant/internal/store"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func trendSeries(n int) models.PriceSeries {
	s := make(models.PriceSeries, n)
	for i := range s {
		c := 50 + float64(i)*0.25
		s[i] = models.PriceBar{Date: day0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return s
}

type mapProvider struct {
	mu     sync.Mutex
	series map[string]models.PriceSeries
	calls  map[string]int
}

func (p *mapProvider) Name() string { return "map" }

func (p *mapProvider) History(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[symbol]++
	s, ok := p.series[symbol]
	if !ok {
		return nil, apperrors.NewDataError("series", symbol, "no file", apperrors.ErrDataNotFound)
	}
	return s, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*analysis.Result
}

func (c *memCache) Get(_ context.Context, key string) (*analysis.Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, r *analysis.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]*analysis.Result)
	}
	c.entries[key] = r
	return nil
}

func snapshots() []models.StockSnapshot {
	return []models.StockSnapshot{
		{Symbol: "etel", Close: 40, LiquidityInflowPct: 70},
		{Symbol: "COMI", Close: 124.8, LiquidityInflowPct: 55},
		{Symbol: " COMI", Close: 1},
	}
}

func TestRun_AnalysesAndPersists(t *testing.T) {
	st, err := store.Open(store.DriverSQLite, filepath.Join(t.TempDir(), "z88.db"))
	require.NoError(t, err)
	defer st.Close()

	m := metrics.NewRegistry()
	p := &mapProvider{series: map[string]models.PriceSeries{"COMI": trendSeries(300)}}
	r := New(Deps{Provider: p, Store: st, Metrics: m, Logger: zerolog.Nop()}, Options{Workers: 2})

	batch, err := r.Run(context.Background(), snapshots())
	require.NoError(t, err)
	require.NotEmpty(t, batch.ID)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, "COMI", batch.Results[0].Symbol)
	assert.Equal(t, "ETEL", batch.Results[1].Symbol)
	assert.Equal(t, 124.8, batch.Results[0].Close, "first duplicate wins")

	comi, err := batch.Find("comi")
	require.NoError(t, err)
	assert.NotNil(t, comi.Waves)
	assert.NotNil(t, comi.Classification)

	etel, err := batch.Find("ETEL")
	require.NoError(t, err)
	assert.NotNil(t, etel.Gann)
	assert.True(t, etel.IsAbsent(analysis.FieldWaves))

	require.Len(t, batch.Failures, 1)
	assert.Equal(t, Failure{Symbol: "ETEL", Stage: StageFetch, Error: batch.Failures[0].Error}, batch.Failures[0])

	_, err = batch.Find("SWDY")
	assert.ErrorIs(t, err, apperrors.ErrSymbolNotFound)

	records, err := st.ListAnalyses(context.Background(), store.AnalysisFilter{RunID: batch.ID})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, batch.ID, runs[0].ID)
	assert.Equal(t, 1, runs[0].Failures)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BatchSymbols))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
}

func TestRun_CacheHit(t *testing.T) {
	m := metrics.NewRegistry()
	c := &memCache{}
	p := &mapProvider{series: map[string]models.PriceSeries{"COMI": trendSeries(120)}}
	r := New(Deps{Provider: p, Cache: c, Metrics: m, Logger: zerolog.Nop()}, Options{Salt: "v1"})

	snaps := []models.StockSnapshot{{Symbol: "COMI", Close: 80}}
	first, err := r.Run(context.Background(), snaps)
	require.NoError(t, err)
	second, err := r.Run(context.Background(), snaps)
	require.NoError(t, err)

	assert.Same(t, first.Results[0], second.Results[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 2, p.calls["COMI"])

	// A different salt misses.
	r2 := New(Deps{Provider: p, Cache: c, Metrics: m, Logger: zerolog.Nop()}, Options{Salt: "v2"})
	third, err := r2.Run(context.Background(), snaps)
	require.NoError(t, err)
	assert.NotSame(t, first.Results[0], third.Results[0])
}

func TestRun_RollForwardSaltIncludesDay(t *testing.T) {
	r := New(Deps{Logger: zerolog.Nop()}, Options{Salt: "s", RollForward: true})
	r.now = func() time.Time { return time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC) }
	assert.Equal(t, "s;day=2024-06-03", r.salt())

	r.opts.RollForward = false
	assert.Equal(t, "s", r.salt())
}

type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }

func (slowProvider) History(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_FetchTimeoutFallsBackToSnapshot(t *testing.T) {
	r := New(Deps{Provider: slowProvider{}, Logger: zerolog.Nop()}, Options{FetchTimeout: 10 * time.Millisecond})

	batch, err := r.Run(context.Background(), []models.StockSnapshot{{Symbol: "COMI", Close: 100}})
	require.NoError(t, err)
	require.Len(t, batch.Results, 1)
	assert.NotNil(t, batch.Results[0].Gann)
	assert.Nil(t, batch.Results[0].Waves)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, StageFetch, batch.Failures[0].Stage)
}

func TestRun_NoProvider(t *testing.T) {
	r := New(Deps{Logger: zerolog.Nop()}, Options{})
	batch, err := r.Run(context.Background(), []models.StockSnapshot{{Symbol: "COMI", Close: 100}})
	require.NoError(t, err)
	assert.True(t, batch.Results[0].IsAbsent(analysis.FieldClassification))
}

func TestRun_EmptyInput(t *testing.T) {
	r := New(Deps{Logger: zerolog.Nop()}, Options{})
	_, err := r.Run(context.Background(), []models.StockSnapshot{{Symbol: "  "}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(Deps{Provider: slowProvider{}, Logger: zerolog.Nop()}, Options{})

	batch, err := r.Run(ctx, snapshots())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, batch.Results, 2)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.CyclePolicy = "roll-forward"
	opts := OptionsFromConfig(cfg)
	assert.True(t, opts.RollForward)
	assert.Equal(t, cfg.Analysis.Workers, opts.Workers)
	assert.Contains(t, opts.Salt, "policy=roll-forward")
}
