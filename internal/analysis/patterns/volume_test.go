package patterns

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func flatSeries(n int, close float64, volume int64) models.PriceSeries {
	series := make(models.PriceSeries, n)
	for i := range series {
		series[i] = models.PriceBar{
			Date:   start.AddDate(0, 0, i),
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: volume,
		}
	}
	return series
}

func TestClassify_BreakoutExample(t *testing.T) {
	series := flatSeries(30, 100, 1000)
	series[29].Close = 130
	series[29].High = 130
	series[29].Volume = 3000

	c, err := NewClassifier(20).Classify(series)
	require.NoError(t, err)
	assert.Equal(t, Breakout, c.Label)
	assert.Equal(t, 95.0, c.Score)
	assert.NotEmpty(t, c.Rationale)
}

func TestClassify_AccumulationAtLow(t *testing.T) {
	series := flatSeries(30, 120, 1000)
	for i := 10; i < 29; i++ {
		series[i].Close = 110 + float64(i%3)
	}
	series[29].Close = 104
	series[29].Volume = 2200

	c, err := NewClassifier(20).Classify(series)
	require.NoError(t, err)
	assert.Equal(t, AccumulationAtLow, c.Label)
	assert.GreaterOrEqual(t, c.Score, 85.0)
	assert.LessOrEqual(t, c.Score, 88.0)
}

func TestClassify_Neutral(t *testing.T) {
	series := flatSeries(30, 100, 1000)
	series[15].Close = 90
	series[20].Close = 120
	series[29].Close = 105
	series[29].Volume = 1000

	c, err := NewClassifier(20).Classify(series)
	require.NoError(t, err)
	assert.Equal(t, Neutral, c.Label)
	assert.Equal(t, 0.0, c.Score)
}

func TestClassify_Errors(t *testing.T) {
	_, err := NewClassifier(1).Classify(flatSeries(5, 10, 10))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = NewClassifier(20).Classify(flatSeries(5, 10, 10))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientData)
}

func TestAccumulationScore(t *testing.T) {
	assert.Equal(t, 85.0, accumulationScore(1.2))
	assert.Equal(t, 86.0, accumulationScore(1.5))
	assert.Equal(t, 88.0, accumulationScore(2.6))
	assert.Equal(t, 88.0, accumulationScore(10))
}

func TestProperty_LabelsMutuallyExclusive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	properties.Property("one label, score consistent with it", prop.ForAll(
		func(closes []float64, volumes []int64, lookback int) bool {
			series := make(models.PriceSeries, len(closes))
			for i := range closes {
				series[i] = models.PriceBar{
					Date:   start.AddDate(0, 0, i),
					Open:   closes[i],
					High:   closes[i],
					Low:    closes[i],
					Close:  closes[i],
					Volume: volumes[i%len(volumes)],
				}
			}
			c, err := NewClassifier(lookback).Classify(series)
			if err != nil {
				return false
			}
			switch c.Label {
			case Breakout:
				return c.Score == BreakoutScore
			case AccumulationAtLow:
				return c.Score >= AccumulationBaseScore && c.Score <= AccumulationMaxScore
			case Neutral:
				return c.Score == 0
			}
			return false
		},
		gen.SliceOfN(40, gen.Float64Range(1, 200)),
		gen.SliceOfN(40, gen.Int64Range(0, 100000)),
		gen.IntRange(2, 40),
	))

	properties.TestingRun(t)
}
