package indicators

import (
	"fmt"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

// Default Bollinger settings.
const (
	DefaultBollingerPeriod = 20
	DefaultBollingerStdDev = 2.0
)

// BollingerBands calculates Bollinger Bands around an SMA using the sample
// standard deviation of the window.
type BollingerBands struct {
	period    int
	stdDevMul float64
}

// NewBollingerBands creates a new Bollinger Bands indicator.
func NewBollingerBands(period int, stdDevMul float64) *BollingerBands {
	return &BollingerBands{
		period:    period,
		stdDevMul: stdDevMul,
	}
}

func (b *BollingerBands) Name() string {
	return fmt.Sprintf("BollingerBands_%d_%.1f", b.period, b.stdDevMul)
}

func (b *BollingerBands) Period() int {
	return b.period
}

func (b *BollingerBands) Calculate(series models.PriceSeries) (map[string][]float64, error) {
	if b.period < 2 || b.stdDevMul <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(series) < b.period {
		return nil, apperrors.NewInsufficientDataError(b.Name(), b.period, len(series))
	}

	n := len(series)
	closes := closePrices(series)

	middle := make([]float64, n)
	upper := make([]float64, n)
	lower := make([]float64, n)
	bandwidth := make([]float64, n)

	for i := b.period - 1; i < n; i++ {
		slice := closes[i-b.period+1 : i+1]
		sma := mean(slice)
		sd := sampleStdDev(slice)

		middle[i] = sma
		upper[i] = sma + b.stdDevMul*sd
		lower[i] = sma - b.stdDevMul*sd

		if middle[i] != 0 {
			bandwidth[i] = (upper[i] - lower[i]) / middle[i]
		}
	}

	return map[string][]float64{
		"middle":    middle,
		"upper":     upper,
		"lower":     lower,
		"bandwidth": bandwidth,
	}, nil
}
