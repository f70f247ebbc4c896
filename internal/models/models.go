// Package models provides domain models for the analysis application.
package models

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	apperrors "z88-quant/internal/errors"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	EGX Exchange = "EGX"
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// DateLayout is the calendar-day layout used for bars in files and the store.
const DateLayout = "2006-01-02"

// PriceBar represents OHLCV data for one trading day.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// PriceSeries is a date-ascending sequence of bars with no duplicate dates.
type PriceSeries []PriceBar

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewPriceSeries copies bars, normalises dates to calendar days, sorts them
// ascending and validates the series invariants.
func NewPriceSeries(bars []PriceBar) (PriceSeries, error) {
	series := make(PriceSeries, len(bars))
	for i, b := range bars {
		b.Date = Day(b.Date)
		series[i] = b
	}
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Date.Before(series[j].Date)
	})
	if err := series.Validate(); err != nil {
		return nil, err
	}
	return series, nil
}

// Validate checks ordering, duplicate dates and value ranges.
// High >= Low and Close within [Low, High] are expected but not enforced.
func (s PriceSeries) Validate() error {
	for i, b := range s {
		if !(b.Close > 0) || math.IsInf(b.Close, 0) {
			return apperrors.NewValidationError("close", b.Close, fmt.Sprintf("bar %s must have a positive close", b.Date.Format(DateLayout)))
		}
		if b.Open < 0 || b.High < 0 || b.Low < 0 || b.Volume < 0 {
			return apperrors.NewValidationError("bar", b.Date.Format(DateLayout), "prices and volume must be non-negative")
		}
		if i > 0 && !s[i-1].Date.Before(b.Date) {
			return apperrors.NewValidationError("date", b.Date.Format(DateLayout), "dates must be strictly increasing")
		}
	}
	return nil
}

// Len returns the number of bars.
func (s PriceSeries) Len() int {
	return len(s)
}

// IsEmpty reports whether the series has no bars.
func (s PriceSeries) IsEmpty() bool {
	return len(s) == 0
}

// Last returns the most recent bar. The series must not be empty.
func (s PriceSeries) Last() PriceBar {
	return s[len(s)-1]
}

// Tail returns the trailing n bars (all bars when n exceeds the length).
func (s PriceSeries) Tail(n int) PriceSeries {
	if n >= len(s) {
		return s
	}
	if n <= 0 {
		return PriceSeries{}
	}
	return s[len(s)-n:]
}

// Closes extracts close prices.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// StockSnapshot is one row of the daily price snapshot file.
type StockSnapshot struct {
	Symbol             string  `json:"symbol"`
	CompanyName        string  `json:"company_name"`
	Close              float64 `json:"close"`
	LiquidityInflowPct float64 `json:"liquidity_inflow_pct"`
	Pivot              float64 `json:"pivot"`
	Support1           float64 `json:"support_1"`
	Resistance1        float64 `json:"resistance_1"`
}

// NormalizeSymbol trims whitespace and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Validate requires a symbol and a positive close.
func (s StockSnapshot) Validate() error {
	if NormalizeSymbol(s.Symbol) == "" {
		return apperrors.NewValidationError("symbol", s.Symbol, "symbol is required")
	}
	if !(s.Close > 0) {
		return apperrors.NewValidationError("close", s.Close, "close must be positive")
	}
	return nil
}
