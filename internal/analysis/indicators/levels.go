package indicators

import (
	"fmt"
	"math"

	apperrors "z88-quant/internal/errors"
)

// Gann square-of-nine increments added to the square root of price.
const (
	GannStep90  = 0.5
	GannStep180 = 1.0
	GannStep270 = 1.5
	GannStep360 = 2.0
)

// Fibonacci extension ratios used for price targets.
const (
	FibExtension161 = 1.618
	FibExtension261 = 2.618
)

// GannLevel is one angle of the square of nine.
type GannLevel struct {
	Angle int     `json:"angle"`
	Label string  `json:"label"`
	Price float64 `json:"price"`
}

// GannLevels holds the 90/180/270/360 degree levels for a price, ascending by angle.
type GannLevels struct {
	Base   float64     `json:"base"`
	Levels []GannLevel `json:"levels"`
}

// At returns the level for an angle in degrees.
func (g GannLevels) At(angle int) (float64, bool) {
	for _, l := range g.Levels {
		if l.Angle == angle {
			return l.Price, true
		}
	}
	return 0, false
}

// Gann maps a positive price to its square-of-nine levels: (sqrt(p)+k)^2.
func Gann(price float64) (GannLevels, error) {
	if !(price > 0) || math.IsInf(price, 0) {
		return GannLevels{}, apperrors.NewValidationError("price", price, "gann levels need a positive finite price")
	}

	root := math.Sqrt(price)
	steps := []struct {
		angle int
		step  float64
	}{
		{90, GannStep90},
		{180, GannStep180},
		{270, GannStep270},
		{360, GannStep360},
	}

	levels := make([]GannLevel, len(steps))
	for i, s := range steps {
		levels[i] = GannLevel{
			Angle: s.angle,
			Label: fmt.Sprintf("%d°", s.angle),
			Price: (root + s.step) * (root + s.step),
		}
	}
	return GannLevels{Base: price, Levels: levels}, nil
}

// SnapshotTargets are the close-only Fibonacci projections shown next to a quote.
type SnapshotTargets struct {
	Target161 float64 `json:"target_161"`
	Target261 float64 `json:"target_261"`
}

// Targets projects close by the 1.618 and 2.618 extensions.
func Targets(close float64) (SnapshotTargets, error) {
	if !(close > 0) {
		return SnapshotTargets{}, apperrors.NewValidationError("close", close, "targets need a positive close")
	}
	return SnapshotTargets{
		Target161: close * FibExtension161,
		Target261: close * FibExtension261,
	}, nil
}
