// Package indicators provides the technical indicator calculations used by the analyzer.
package indicators

import (
	"fmt"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

// DefaultRSIPeriod is the RSI window used in snapshots.
const DefaultRSIPeriod = 14

// RSI calculates the Relative Strength Index with simple-average gains and losses.
type RSI struct {
	period int
}

// NewRSI creates a new RSI indicator.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string {
	return fmt.Sprintf("RSI_%d", r.period)
}

func (r *RSI) Period() int {
	return r.period
}

// Calculate returns one value per bar. Entries before index Period() are
// undefined and left at zero; callers should read from Period() onwards.
func (r *RSI) Calculate(series models.PriceSeries) ([]float64, error) {
	if r.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(series) < r.period+1 {
		return nil, apperrors.NewInsufficientDataError(r.Name(), r.period+1, len(series))
	}

	n := len(series)
	result := make([]float64, n)
	closes := closePrices(series)

	gains := make([]float64, n)
	losses := make([]float64, n)

	for i := 1; i < n; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	for i := r.period; i < n; i++ {
		avgGain := mean(gains[i-r.period+1 : i+1])
		avgLoss := mean(losses[i-r.period+1 : i+1])
		result[i] = rsiValue(avgGain, avgLoss)
	}

	return result, nil
}

// Last returns the RSI aligned to the final bar.
func (r *RSI) Last(series models.PriceSeries) (float64, error) {
	values, err := r.Calculate(series)
	if err != nil {
		return 0, err
	}
	return values[len(values)-1], nil
}

// rsiValue saturates at 100 when there were no losses in the window.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}
