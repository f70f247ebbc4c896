// Package patterns classifies the latest bar of a series against its recent
// price range and volume.
package patterns

import (
	"fmt"
	"math"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

// Label is the classification outcome.
type Label string

const (
	Breakout          Label = "Breakout"
	AccumulationAtLow Label = "AccumulationAtLow"
	Neutral           Label = "Neutral"
)

// Rule thresholds.
const (
	DefaultLookback          = 20
	BreakoutVolumeMultiplier = 1.5
	AccumulationBand         = 1.05
	BreakoutScore            = 95.0
	AccumulationBaseScore    = 85.0
	AccumulationMaxScore     = 88.0
	accumulationScoreStep    = 0.5
)

// Classification is the label, a confidence score in [0, 100] and why it was chosen.
type Classification struct {
	Label       Label   `json:"label"`
	Score       float64 `json:"score"`
	Rationale   string  `json:"rationale"`
	RollingHigh float64 `json:"rolling_high"`
	RollingLow  float64 `json:"rolling_low"`
	VolumeAvg   float64 `json:"volume_average"`
	VolumeRatio float64 `json:"volume_ratio"`
}

// Classifier scores the last bar against the trailing window.
type Classifier struct {
	lookback int
}

// NewClassifier creates a classifier; lookback 0 means DefaultLookback.
func NewClassifier(lookback int) *Classifier {
	if lookback == 0 {
		lookback = DefaultLookback
	}
	return &Classifier{lookback: lookback}
}

func (c *Classifier) Name() string {
	return fmt.Sprintf("Classifier_%d", c.lookback)
}

// Lookback returns the window size.
func (c *Classifier) Lookback() int {
	return c.lookback
}

// Classify evaluates the trailing window (the last bar included). Breakout is
// checked first, so a degenerate flat window that satisfies both rules is a
// Breakout and the labels stay mutually exclusive.
func (c *Classifier) Classify(series models.PriceSeries) (Classification, error) {
	if c.lookback < 2 {
		return Classification{}, apperrors.NewValidationError("lookback", c.lookback, "must be at least 2")
	}
	if len(series) < c.lookback {
		return Classification{}, apperrors.NewInsufficientDataError(c.Name(), c.lookback, len(series))
	}

	window := series.Tail(c.lookback)
	last := window.Last()

	result := Classification{
		Label:       Neutral,
		RollingHigh: math.Inf(-1),
		RollingLow:  math.Inf(1),
	}
	var totalVolume float64
	for _, b := range window {
		result.RollingHigh = math.Max(result.RollingHigh, b.Close)
		result.RollingLow = math.Min(result.RollingLow, b.Close)
		totalVolume += float64(b.Volume)
	}
	result.VolumeAvg = totalVolume / float64(len(window))
	if result.VolumeAvg > 0 {
		result.VolumeRatio = float64(last.Volume) / result.VolumeAvg
	}

	lastVolume := float64(last.Volume)
	switch {
	case last.Close >= result.RollingHigh && lastVolume > result.VolumeAvg*BreakoutVolumeMultiplier:
		result.Label = Breakout
		result.Score = BreakoutScore
		result.Rationale = fmt.Sprintf("close %.2f at the %d-bar high on %.1fx average volume",
			last.Close, c.lookback, result.VolumeRatio)
	case last.Close <= result.RollingLow*AccumulationBand && lastVolume > result.VolumeAvg:
		result.Label = AccumulationAtLow
		result.Score = accumulationScore(result.VolumeRatio)
		result.Rationale = fmt.Sprintf("close %.2f within 5%% of the %d-bar low %.2f on %.1fx average volume",
			last.Close, c.lookback, result.RollingLow, result.VolumeRatio)
	default:
		result.Rationale = fmt.Sprintf("close %.2f inside the %d-bar range %.2f-%.2f; no volume-confirmed setup",
			last.Close, c.lookback, result.RollingLow, result.RollingHigh)
	}

	return result, nil
}

// accumulationScore adds one point per half unit of volume ratio above 1, up to 88.
func accumulationScore(volumeRatio float64) float64 {
	bonus := math.Floor((volumeRatio - 1) / accumulationScoreStep)
	if bonus < 0 {
		bonus = 0
	}
	return math.Min(AccumulationBaseScore+bonus, AccumulationMaxScore)
}
