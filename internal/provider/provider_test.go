package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"

	"z88-quant/internal/config"
	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/metrics"
	"z88-quant/internal/models"
	"z88-quant/pkg/utils"
)

var day0 = time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC) // Sunday

func makeSeries(n int, from time.Time) models.PriceSeries {
	s := make(models.PriceSeries, n)
	for i := range s {
		c := 10 + float64(i)
		s[i] = models.PriceBar{Date: from.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100}
	}
	return s
}

func TestCSVProvider(t *testing.T) {
	dir := t.TempDir()
	doc := "Date,Open,High,Low,Close,Volume\n2024-06-02,1,2,0.5,1.5,10\n2024-06-03,1.5,2.5,1,2,20\n2024-06-04,2,3,1.5,2.5,30\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "COMI.csv"), []byte(doc), 0644))

	p := NewCSVProvider(dir)
	series, err := p.History(context.Background(), " comi ", day0.AddDate(0, 0, 1), time.Time{})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 2.0, series[0].Close)

	_, err = p.History(context.Background(), "ETEL", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
}

type fakeKite struct {
	instruments kiteconnect.Instruments
	data        []kiteconnect.HistoricalData
	calls       int
	gotToken    int
	gotInterval string
}

func (f *fakeKite) GetInstruments() (kiteconnect.Instruments, error) {
	f.calls++
	return f.instruments, nil
}

func (f *fakeKite) GetHistoricalData(token int, interval string, from, to time.Time, continuous, oi bool) ([]kiteconnect.HistoricalData, error) {
	f.gotToken = token
	f.gotInterval = interval
	return f.data, nil
}

func TestKiteProvider(t *testing.T) {
	fake := &fakeKite{
		instruments: kiteconnect.Instruments{
			{InstrumentToken: 738561, Tradingsymbol: "RELIANCE", Exchange: "NSE"},
			{InstrumentToken: 1, Tradingsymbol: "RELIANCE", Exchange: "BSE"},
		},
		data: []kiteconnect.HistoricalData{
			{Date: kitemodels.Time{Time: day0.Add(9 * time.Hour)}, Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 100},
			{Date: kitemodels.Time{Time: day0.AddDate(0, 0, 1).Add(9 * time.Hour)}, Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 120},
		},
	}
	p := newKiteProvider(fake, models.NSE)

	series, err := p.History(context.Background(), "reliance", day0, day0.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 738561, fake.gotToken)
	assert.Equal(t, "day", fake.gotInterval)
	assert.Equal(t, day0, series[0].Date)
	assert.Equal(t, int64(120), series[1].Volume)

	_, err = p.History(context.Background(), "INFY", day0, day0)
	assert.ErrorIs(t, err, apperrors.ErrSymbolNotFound)
	assert.Equal(t, 1, fake.calls, "instrument dump is loaded once")
}

func TestNewKiteProvider_RequiresCredentials(t *testing.T) {
	_, err := NewKiteProvider("", "", models.NSE)
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

type memStore struct {
	mu     sync.Mutex
	bars   map[string]models.PriceSeries
	saves  int
	source string
}

func newMemStore() *memStore {
	return &memStore{bars: make(map[string]models.PriceSeries)}
}

func (m *memStore) SaveSeries(_ context.Context, symbol, source string, series models.PriceSeries) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.source = source
	byDate := make(map[time.Time]models.PriceBar)
	for _, b := range m.bars[symbol] {
		byDate[b.Date] = b
	}
	for _, b := range series {
		byDate[b.Date] = b
	}
	merged := make([]models.PriceBar, 0, len(byDate))
	for _, b := range byDate {
		merged = append(merged, b)
	}
	s, err := models.NewPriceSeries(merged)
	if err != nil {
		return err
	}
	m.bars[symbol] = s
	return nil
}

func (m *memStore) GetSeries(_ context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clip(m.bars[symbol], from, to), nil
}

func (m *memStore) LatestBarDate(_ context.Context, symbol string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.bars[symbol]
	if len(s) == 0 {
		return time.Time{}, false, nil
	}
	return s.Last().Date, true, nil
}

type stubProvider struct {
	name   string
	series models.PriceSeries
	err    error
	calls  int
	mu     sync.Mutex
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) History(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return clip(s.series, from, to), nil
}

func TestStoreProvider_ReadThrough(t *testing.T) {
	ctx := context.Background()
	up := &stubProvider{name: "csv", series: makeSeries(5, day0)} // Sun..Thu
	st := newMemStore()
	p := NewStoreProvider(up, st, models.EGX, zerolog.Nop())
	// Friday: last completed EGX session is Thursday day0+4.
	p.now = func() time.Time { return day0.AddDate(0, 0, 5).Add(12 * time.Hour) }

	series, err := p.History(ctx, "COMI", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, series, 5)
	assert.Equal(t, 1, up.calls)
	assert.Equal(t, "csv", st.source)

	// Fresh now: served from the store.
	_, err = p.History(ctx, "COMI", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls)
}

func TestStoreProvider_StaleFallsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	require.NoError(t, st.SaveSeries(ctx, "COMI", "csv", makeSeries(3, day0)))

	up := &stubProvider{name: "kite", err: errors.New("gateway timeout")}
	p := NewStoreProvider(up, st, models.EGX, zerolog.Nop())
	p.now = func() time.Time { return day0.AddDate(0, 0, 10) }

	series, err := p.History(ctx, "COMI", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, series, 3)
	assert.Equal(t, 1, up.calls)

	_, err = p.History(ctx, "ETEL", time.Time{}, time.Time{})
	assert.Error(t, err)
}

func fastResilience() ResilienceConfig {
	return ResilienceConfig{RatePerSecond: 1000, Burst: 100, MaxRetries: 3, BreakerFailures: 2, BreakerCooldown: time.Minute}
}

type flakyProvider struct {
	failures int
	calls    int
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) History(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return makeSeries(2, day0), nil
}

func TestResilient_RetriesTransientErrors(t *testing.T) {
	m := metrics.NewRegistry()
	inner := &flakyProvider{failures: 1}
	r := NewResilient(inner, fastResilience(), m, zerolog.Nop())
	r.retry.InitialDelay = time.Millisecond

	series, err := r.History(context.Background(), "COMI", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, series, 2)
	assert.Equal(t, 2, inner.calls)
}

func TestResilient_NotFoundIsNotRetried(t *testing.T) {
	inner := &stubProvider{name: "csv", err: apperrors.NewDataError("series", "X", "no file", apperrors.ErrDataNotFound)}
	r := NewResilient(inner, fastResilience(), nil, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := r.History(context.Background(), "X", time.Time{}, time.Time{})
		assert.ErrorIs(t, err, apperrors.ErrDataNotFound)
	}
	assert.Equal(t, 5, inner.calls)
	assert.Equal(t, gobreaker.StateClosed, r.State(), "missing data must not trip the breaker")
}

func TestResilient_BreakerOpens(t *testing.T) {
	inner := &stubProvider{name: "kite", err: errors.New("503")}
	cfg := fastResilience()
	cfg.MaxRetries = 1
	r := NewResilient(inner, cfg, nil, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := r.History(context.Background(), "X", time.Time{}, time.Time{})
		require.Error(t, err)
	}
	_, err := r.History(context.Background(), "X", time.Time{}, time.Time{})
	assert.ErrorIs(t, err, apperrors.ErrProviderDown)
	assert.Equal(t, 2, inner.calls)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Provider.CSVDir = t.TempDir()

	p, err := FromConfig(cfg, newMemStore(), nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "store+csv", p.Name())

	p, err = FromConfig(cfg, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "csv", p.Name())

	cfg.Provider.Kind = "kite"
	_, err = FromConfig(cfg, nil, nil, zerolog.Nop())
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestWindow(t *testing.T) {
	from, to := Window(day0.Add(15*time.Hour), 30)
	assert.Equal(t, day0, to)
	assert.Equal(t, day0.AddDate(0, 0, -30), from)
	_ = utils.SessionFor(models.EGX)
}

func TestFindResilient(t *testing.T) {
	inner := &stubProvider{}
	r := NewResilient(inner, DefaultResilienceConfig(), nil, zerolog.Nop())

	found, ok := FindResilient(NewStoreProvider(r, newMemStore(), models.NSE, zerolog.Nop()))
	require.True(t, ok)
	assert.Same(t, r, found)

	_, ok = FindResilient(inner)
	assert.False(t, ok)
}
