package waves

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

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// bar builds a bar offset days from day0.
func bar(offset int, low, high, close float64) models.PriceBar {
	return models.PriceBar{
		Date:   day0.AddDate(0, 0, offset),
		Open:   close,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: 1000,
	}
}

func TestProject_GrandCycleExample(t *testing.T) {
	series := models.PriceSeries{
		bar(0, 50, 60, 55),
		bar(1, 70, 150, 120),
		bar(2, 100, 130, 110),
	}
	p := NewProjector(Config{Now: fixedNow(day0)})

	res, err := p.Project(series, 110)
	require.NoError(t, err)

	assert.Equal(t, 50.0, res.GrandLow.Price)
	assert.Equal(t, day0, res.GrandLow.Date)
	assert.Equal(t, 150.0, res.GrandHigh)
	assert.InDelta(t, 100.0, res.Wave1Range, 1e-9)
	assert.InDelta(t, 211.8, res.Wave3Target, 1e-9)
	assert.InDelta(t, 311.8, res.Wave5Target, 1e-9)
	assert.Equal(t, day0.AddDate(0, 0, 144), res.GrandCycleEndDate)
	assert.True(t, res.LowConfidence)
	assert.NotEmpty(t, res.Notes)
}

func TestProject_SubCycle(t *testing.T) {
	var series models.PriceSeries
	for i := 0; i < 100; i++ {
		series = append(series, bar(i, 100, 110, 105))
	}
	// Grand low outside the trailing 40 bars, sub low inside it.
	series[5] = bar(5, 40, 110, 60)
	series[80] = bar(80, 90, 100, 95)

	p := NewProjector(Config{SubCycleLookback: 40, Now: fixedNow(day0)})
	res, err := p.Project(series, 120)
	require.NoError(t, err)

	assert.Equal(t, 40.0, res.GrandLow.Price)
	assert.Equal(t, 90.0, res.SubLow.Price)
	assert.Equal(t, day0.AddDate(0, 0, 80), res.SubLow.Date)
	assert.InDelta(t, 90+30*1.618, res.SubWaveTarget, 1e-9)
	assert.Equal(t, day0.AddDate(0, 0, 80+55), res.SubCycleEndDate)
	assert.Equal(t, res.SubCycleEndDate.AddDate(0, 0, 3), res.NextCycleWindow.Start)
	assert.Equal(t, res.NextCycleWindow.Start.AddDate(0, 0, 34), res.NextCycleWindow.End)
	assert.False(t, res.LowConfidence)
}

func TestProject_SubWaveFallback(t *testing.T) {
	series := models.PriceSeries{bar(0, 100, 120, 110), bar(1, 100, 115, 105)}
	res, err := NewProjector(Config{Now: fixedNow(day0)}).Project(series, 95)
	require.NoError(t, err)
	assert.InDelta(t, 95*1.15, res.SubWaveTarget, 1e-9)
}

func TestProject_CyclePolicies(t *testing.T) {
	series := models.PriceSeries{bar(0, 50, 60, 55), bar(1, 55, 65, 60)}
	now := day0.AddDate(0, 0, 400)

	fixed, err := NewProjector(Config{Policy: CyclePolicyFixed, Now: fixedNow(now)}).Project(series, 60)
	require.NoError(t, err)
	assert.Equal(t, day0.AddDate(0, 0, 144), fixed.GrandCycleEndDate, "fixed policy must not advance past dates")

	rolled, err := NewProjector(Config{Policy: CyclePolicyRollForward, Now: fixedNow(now)}).Project(series, 60)
	require.NoError(t, err)
	assert.Equal(t, day0.AddDate(0, 0, 432), rolled.GrandCycleEndDate)
	assert.True(t, rolled.GrandCycleEndDate.After(now))
	assert.True(t, rolled.SubCycleEndDate.After(now))
	assert.Equal(t, 0, int(rolled.SubCycleEndDate.Sub(day0).Hours()/24)%55)
}

func TestProject_RollForwardBoundary(t *testing.T) {
	series := models.PriceSeries{bar(0, 50, 60, 55)}
	now := day0.AddDate(0, 0, 144)

	res, err := NewProjector(Config{Policy: CyclePolicyRollForward, Now: fixedNow(now)}).Project(series, 55)
	require.NoError(t, err)
	assert.Equal(t, day0.AddDate(0, 0, 288), res.GrandCycleEndDate)
}

func TestProject_Errors(t *testing.T) {
	_, err := NewProjector(DefaultConfig()).Project(nil, 10)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientData)

	_, err = NewProjector(Config{SubCycleLookback: -1}).Project(models.PriceSeries{bar(0, 1, 2, 1.5)}, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestParseCyclePolicy(t *testing.T) {
	p, err := ParseCyclePolicy("roll-forward")
	require.NoError(t, err)
	assert.Equal(t, CyclePolicyRollForward, p)

	p, err = ParseCyclePolicy("")
	require.NoError(t, err)
	assert.Equal(t, CyclePolicyFixed, p)

	_, err = ParseCyclePolicy("sideways")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestProperty_Wave3BelowWave5(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	properties.Property("wave3 < wave5 whenever the grand range is positive", prop.ForAll(
		func(lows []float64, spread float64) bool {
			series := make(models.PriceSeries, len(lows))
			for i, l := range lows {
				series[i] = bar(i, l, l+spread, l+spread/2)
			}
			res, err := NewProjector(Config{Now: fixedNow(day0)}).Project(series, lows[len(lows)-1])
			if err != nil {
				return false
			}
			if res.Wave1Range <= 0 {
				return true
			}
			return res.Wave3Target < res.Wave5Target && res.GrandCycleEndDate.Equal(res.GrandLow.Date.AddDate(0, 0, GrandCycleDays))
		},
		gen.SliceOfN(30, gen.Float64Range(1, 500)),
		gen.Float64Range(0.01, 50),
	))

	properties.TestingRun(t)
}
