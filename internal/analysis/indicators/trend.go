package indicators

import (
	"fmt"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

// Default MACD spans.
const (
	DefaultMACDFast   = 12
	DefaultMACDSlow   = 26
	DefaultMACDSignal = 9
)

// CalculateEMA calculates the recursive EMA on raw values (helper for other indicators).
func CalculateEMA(values []float64, span int) []float64 {
	return ewma(values, span)
}

// MACD calculates Moving Average Convergence Divergence.
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// NewMACD creates a new MACD indicator, usually (12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fastPeriod:   fast,
		slowPeriod:   slow,
		signalPeriod: signal,
	}
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD_%d_%d_%d", m.fastPeriod, m.slowPeriod, m.signalPeriod)
}

// Period is the bar count after which values stop being low-confidence.
func (m *MACD) Period() int {
	return m.slowPeriod
}

// Calculate returns "macd", "signal" and "histogram" lines, defined from the
// first bar onward.
func (m *MACD) Calculate(series models.PriceSeries) (map[string][]float64, error) {
	if m.fastPeriod <= 0 || m.slowPeriod <= 0 || m.signalPeriod <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(series) == 0 {
		return nil, apperrors.NewInsufficientDataError(m.Name(), 1, 0)
	}

	closes := closePrices(series)
	fastEMA := ewma(closes, m.fastPeriod)
	slowEMA := ewma(closes, m.slowPeriod)

	macdLine := make([]float64, len(series))
	for i := range closes {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalLine := ewma(macdLine, m.signalPeriod)

	histogram := make([]float64, len(series))
	for i := range macdLine {
		histogram[i] = macdLine[i] - signalLine[i]
	}

	return map[string][]float64{
		"macd":      macdLine,
		"signal":    signalLine,
		"histogram": histogram,
	}, nil
}
