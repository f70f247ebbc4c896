// Package analysis composes Gann levels, indicators, wave projections and
// pattern classification into one Result per symbol.
package analysis

import (
	"time"

	"z88-quant/internal/analysis/indicators"
	"z88-quant/internal/analysis/patterns"
	"z88-quant/internal/analysis/waves"
	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

// Field names used in Result.Absent.
const (
	FieldGann           = "gann"
	FieldTargets        = "targets"
	FieldWaves          = "waves"
	FieldIndicators     = "indicators"
	FieldRSI            = indicators.FieldRSI
	FieldMACD           = indicators.FieldMACD
	FieldBollinger      = indicators.FieldBollinger
	FieldClassification = "classification"
)

// SnapshotLevels are the pivot, support and resistance carried by the snapshot file.
type SnapshotLevels struct {
	Pivot       float64 `json:"pivot"`
	Support1    float64 `json:"support_1"`
	Resistance1 float64 `json:"resistance_1"`
}

// Result is the complete analysis for one symbol. Nil sections are absent and
// Absent says why. A Result is never modified after Analyze returns it.
type Result struct {
	Symbol             string                      `json:"symbol"`
	CompanyName        string                      `json:"company_name,omitempty"`
	Close              float64                     `json:"close"`
	LiquidityInflowPct float64                     `json:"liquidity_inflow_pct"`
	Levels             SnapshotLevels              `json:"levels"`
	SeriesBars         int                         `json:"series_bars"`
	LastBarDate        *time.Time                  `json:"last_bar_date,omitempty"`
	Targets            *indicators.SnapshotTargets `json:"targets,omitempty"`
	Gann               *indicators.GannLevels      `json:"gann,omitempty"`
	Waves              *waves.Result               `json:"waves,omitempty"`
	Indicators         *indicators.Snapshot        `json:"indicators,omitempty"`
	Classification     *patterns.Classification    `json:"classification,omitempty"`
	Absent             map[string]string           `json:"absent,omitempty"`
}

// IsAbsent reports whether a field was marked absent.
func (r *Result) IsAbsent(field string) bool {
	_, ok := r.Absent[field]
	return ok
}

func (r *Result) markAbsent(field string, err error) {
	if r.Absent == nil {
		r.Absent = make(map[string]string)
	}
	r.Absent[field] = err.Error()
}

// Config holds the tunable parts of the analysis.
type Config struct {
	Waves              waves.Config
	ClassifierLookback int
	Indicators         indicators.Set
}

// DefaultConfig returns the default projector, a 20-bar classifier and the default indicator set.
func DefaultConfig() Config {
	return Config{
		Waves:              waves.DefaultConfig(),
		ClassifierLookback: patterns.DefaultLookback,
		Indicators:         indicators.DefaultSet(),
	}
}

// Analyzer is stateless between calls and safe for concurrent use.
type Analyzer struct {
	projector  *waves.Projector
	classifier *patterns.Classifier
	indicators indicators.Set
}

// NewAnalyzer creates an analyzer from cfg. A zero indicator set falls back to the defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	set := cfg.Indicators
	if set.RSI == nil || set.MACD == nil || set.Bollinger == nil {
		set = indicators.DefaultSet()
	}
	return &Analyzer{
		projector:  waves.NewProjector(cfg.Waves),
		classifier: patterns.NewClassifier(cfg.ClassifierLookback),
		indicators: set,
	}
}

// Analyze always returns a Result. With an empty series it returns the
// snapshot-only sections and an error matching ErrMissingSeries; every other
// failure is recorded in Result.Absent.
func (a *Analyzer) Analyze(snapshot models.StockSnapshot, series models.PriceSeries) (*Result, error) {
	res := &Result{
		Symbol:             models.NormalizeSymbol(snapshot.Symbol),
		CompanyName:        snapshot.CompanyName,
		Close:              snapshot.Close,
		LiquidityInflowPct: snapshot.LiquidityInflowPct,
		Levels: SnapshotLevels{
			Pivot:       snapshot.Pivot,
			Support1:    snapshot.Support1,
			Resistance1: snapshot.Resistance1,
		},
		SeriesBars: len(series),
	}

	if gann, err := indicators.Gann(snapshot.Close); err != nil {
		res.markAbsent(FieldGann, err)
	} else {
		res.Gann = &gann
	}
	if targets, err := indicators.Targets(snapshot.Close); err != nil {
		res.markAbsent(FieldTargets, err)
	} else {
		res.Targets = &targets
	}

	if series.IsEmpty() {
		err := apperrors.NewDataError("series", res.Symbol, "no historical series", apperrors.ErrMissingSeries)
		for _, field := range []string{FieldWaves, FieldIndicators, FieldClassification} {
			res.markAbsent(field, err)
		}
		return res, err
	}

	lastDate := series.Last().Date
	res.LastBarDate = &lastDate

	price := snapshot.Close
	if !(price > 0) {
		price = series.Last().Close
	}

	if projection, err := a.projector.Project(series, price); err != nil {
		res.markAbsent(FieldWaves, err)
	} else {
		res.Waves = projection
	}

	snap, errs := a.indicators.Compute(series)
	res.Indicators = &snap
	for field, err := range errs {
		res.markAbsent(field, err)
	}

	if c, err := a.classifier.Classify(series); err != nil {
		res.markAbsent(FieldClassification, err)
	} else {
		res.Classification = &c
	}

	return res, nil
}
