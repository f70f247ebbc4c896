package indicators

import (
	"math"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

var (
	// ErrInsufficientData is returned when there's not enough data for calculation.
	ErrInsufficientData = apperrors.ErrInsufficientData
	// ErrInvalidPeriod is returned when the period is invalid.
	ErrInvalidPeriod = apperrors.Wrap(apperrors.ErrInvalidInput, "invalid period")
	// ErrInvalidInput is returned for inputs outside a calculation's domain.
	ErrInvalidInput = apperrors.ErrInvalidInput
)

// sum calculates the sum of a slice of float64.
func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// mean calculates the arithmetic mean of a slice of float64.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// sampleStdDev calculates the sample (n-1) standard deviation.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var variance float64
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}

// closePrices extracts close prices from bars.
func closePrices(series models.PriceSeries) []float64 {
	return series.Closes()
}

// ewma is the recursive exponential average seeded with the first value:
// out[0] = x[0], out[t] = x[t]*alpha + out[t-1]*(1-alpha), alpha = 2/(span+1).
func ewma(values []float64, span int) []float64 {
	if len(values) == 0 || span <= 0 {
		return nil
	}
	alpha := 2.0 / float64(span+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*alpha + out[i-1]*(1-alpha)
	}
	return out
}

func ptr(v float64) *float64 {
	return &v
}
