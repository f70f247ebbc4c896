package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z88-quant/internal/analysis"
	"z88-quant/internal/analysis/patterns"
	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "z88.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeSeries(n int, base float64) models.PriceSeries {
	series := make(models.PriceSeries, n)
	for i := range series {
		c := base + float64(i)
		series[i] = models.PriceBar{Date: day0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: int64(1000 + i)}
	}
	return series
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSeries_SaveGetLatest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.LatestBarDate(ctx, "COMI")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveSeries(ctx, "comi", "csv", makeSeries(10, 50)))

	latest, ok, err := s.LatestBarDate(ctx, "COMI")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, day0.AddDate(0, 0, 9), latest)

	got, err := s.GetSeries(ctx, "COMI", day0.AddDate(0, 0, 2), day0.AddDate(0, 0, 4))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 52.0, got[0].Close)

	all, err := s.GetSeries(ctx, "COMI", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestSeries_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveSeries(ctx, "ETEL", "csv", makeSeries(3, 10)))
	update := makeSeries(3, 20)[1:]
	require.NoError(t, s.SaveSeries(ctx, "ETEL", "kite", update))

	got, err := s.GetSeries(ctx, "ETEL", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 10.0, got[0].Close)
	assert.Equal(t, 21.0, got[1].Close)
	assert.Equal(t, 22.0, got[2].Close)
}

func TestAnalyses_SaveList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	run := RunRecord{ID: "run-1", StartedAt: day0, FinishedAt: day0.Add(time.Minute), Symbols: 2, Failures: 1}
	require.NoError(t, s.SaveRun(ctx, run))

	breakout := &analysis.Result{
		Symbol:         "COMI",
		Close:          130,
		Classification: &patterns.Classification{Label: patterns.Breakout, Score: 95},
	}
	missing := &analysis.Result{Symbol: "ETEL", Close: 40, Absent: map[string]string{"waves": "missing series"}}
	require.NoError(t, s.SaveAnalysis(ctx, run.ID, breakout))
	require.NoError(t, s.SaveAnalysis(ctx, run.ID, missing))
	assert.ErrorIs(t, s.SaveAnalysis(ctx, run.ID, nil), apperrors.ErrInvalidInput)

	records, err := s.ListAnalyses(ctx, AnalysisFilter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	records, err = s.ListAnalyses(ctx, AnalysisFilter{Label: string(patterns.Breakout)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "COMI", records[0].Symbol)
	assert.Equal(t, 95.0, records[0].Score)
	require.NotNil(t, records[0].Result.Classification)
	assert.Equal(t, patterns.Breakout, records[0].Result.Classification.Label)

	records, err = s.ListAnalyses(ctx, AnalysisFilter{Symbol: "etel", Limit: 5})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Result.IsAbsent("waves"))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.True(t, run.FinishedAt.Equal(runs[0].FinishedAt))
	assert.Equal(t, 1, runs[0].Failures)
}

func TestProperty_SeriesRoundTrip(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	symbols := []string{"COMI", "ETEL", "HRHO", "SWDY", "ABUK", "EAST", "TMGH", "FWRY"}
	run := 0

	properties.Property("save then get returns the same bars", prop.ForAll(
		func(symbolIdx int, count int, base float64) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("%s_%d", symbols[symbolIdx%len(symbols)], run)
			series := makeSeries(count, base)

			if err := s.SaveSeries(ctx, symbol, "test", series); err != nil {
				t.Logf("save: %v", err)
				return false
			}
			got, err := s.GetSeries(ctx, symbol, time.Time{}, time.Time{})
			if err != nil {
				t.Logf("get: %v", err)
				return false
			}
			if len(got) != len(series) {
				return false
			}
			for i := range got {
				if !got[i].Date.Equal(series[i].Date) || got[i].Close != series[i].Close ||
					got[i].High != series[i].High || got[i].Volume != series[i].Volume {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 100),
		gen.IntRange(1, 40),
		gen.Float64Range(1, 5000),
	))

	properties.TestingRun(t)
}
