// Package waves projects Elliott-wave price targets and Fibonacci time cycles
// from a daily price series.
package waves

import (
	"fmt"
	"time"

	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

// Fibonacci ratios and day counts used by the projector.
const (
	Wave3Extension     = 1.618
	Wave5Extension     = 2.618
	SubWaveExtension   = 1.618
	SubWaveFallback    = 1.15
	GrandCycleDays     = 144
	SubCycleDays       = 55
	NextWindowOffset   = 3
	NextWindowDays     = 34
	DefaultSubLookback = 90
	MinReliableBars    = 20
	RecommendedBars    = 250
)

// CyclePolicy decides what happens to a cycle end date that is already in the past.
type CyclePolicy string

const (
	// CyclePolicyFixed reports anchor + cycle length as computed.
	CyclePolicyFixed CyclePolicy = "fixed"
	// CyclePolicyRollForward advances by whole cycles until the date is after Now.
	CyclePolicyRollForward CyclePolicy = "roll-forward"
)

// ParseCyclePolicy accepts "fixed" and "roll-forward".
func ParseCyclePolicy(s string) (CyclePolicy, error) {
	switch CyclePolicy(s) {
	case CyclePolicyFixed, "":
		return CyclePolicyFixed, nil
	case CyclePolicyRollForward:
		return CyclePolicyRollForward, nil
	default:
		return "", apperrors.NewValidationError("cycle_policy", s, "must be 'fixed' or 'roll-forward'")
	}
}

// Config controls the projector.
type Config struct {
	SubCycleLookback int
	Policy           CyclePolicy
	Now              func() time.Time
}

// DefaultConfig uses a 90-bar sub-cycle and the fixed-offset policy.
func DefaultConfig() Config {
	return Config{
		SubCycleLookback: DefaultSubLookback,
		Policy:           CyclePolicyFixed,
		Now:              time.Now,
	}
}

// PricePoint is a price observed on a day.
type PricePoint struct {
	Price float64   `json:"price"`
	Date  time.Time `json:"date"`
}

// Window is an inclusive date range.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Result is the wave and cycle projection for one series.
type Result struct {
	GrandLow          PricePoint `json:"grand_low"`
	GrandHigh         float64    `json:"grand_high"`
	Wave1Range        float64    `json:"wave1_range"`
	Wave3Target       float64    `json:"wave3_target"`
	Wave5Target       float64    `json:"wave5_target"`
	GrandCycleEndDate time.Time  `json:"grand_cycle_end_date"`
	SubLow            PricePoint `json:"sub_low"`
	SubWaveTarget     float64    `json:"sub_wave_target"`
	SubCycleEndDate   time.Time  `json:"sub_cycle_end_date"`
	NextCycleWindow   Window     `json:"next_cycle_window"`
	Bars              int        `json:"bars"`
	LowConfidence     bool       `json:"low_confidence"`
	Notes             []string   `json:"notes,omitempty"`
}

// Projector computes wave targets and cycle dates.
type Projector struct {
	cfg Config
}

// NewProjector creates a projector, filling unset fields from DefaultConfig.
func NewProjector(cfg Config) *Projector {
	def := DefaultConfig()
	if cfg.SubCycleLookback == 0 {
		cfg.SubCycleLookback = def.SubCycleLookback
	}
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Projector{cfg: cfg}
}

// Project runs the grand-cycle, sub-cycle and next-window steps.
// currentPrice drives the sub-wave target.
func (p *Projector) Project(series models.PriceSeries, currentPrice float64) (*Result, error) {
	if len(series) == 0 {
		return nil, apperrors.NewInsufficientDataError("wave projection", 1, 0)
	}
	if p.cfg.SubCycleLookback <= 0 {
		return nil, apperrors.NewValidationError("sub_cycle_lookback", p.cfg.SubCycleLookback, "must be positive")
	}

	res := &Result{Bars: len(series)}
	if len(series) < MinReliableBars {
		res.LowConfidence = true
		res.Notes = append(res.Notes, fmt.Sprintf("only %d bars; projections are low confidence (need %d)", len(series), MinReliableBars))
	} else if len(series) < RecommendedBars {
		res.Notes = append(res.Notes, fmt.Sprintf("%d bars is shorter than the recommended %d for a grand cycle", len(series), RecommendedBars))
	}

	now := models.Day(p.cfg.Now())

	// Grand cycle over the full series.
	res.GrandLow = lowestLow(series)
	res.GrandHigh = highestHigh(series)
	res.Wave1Range = res.GrandHigh - res.GrandLow.Price
	res.Wave3Target = res.GrandLow.Price + res.Wave1Range*Wave3Extension
	res.Wave5Target = res.GrandLow.Price + res.Wave1Range*Wave5Extension
	res.GrandCycleEndDate = p.cycleEnd(res.GrandLow.Date, GrandCycleDays, now)

	// Sub-cycle over the trailing window.
	res.SubLow = lowestLow(series.Tail(p.cfg.SubCycleLookback))
	if currentPrice > res.SubLow.Price {
		res.SubWaveTarget = res.SubLow.Price + (currentPrice-res.SubLow.Price)*SubWaveExtension
	} else {
		res.SubWaveTarget = currentPrice * SubWaveFallback
	}
	res.SubCycleEndDate = p.cycleEnd(res.SubLow.Date, SubCycleDays, now)

	start := res.SubCycleEndDate.AddDate(0, 0, NextWindowOffset)
	res.NextCycleWindow = Window{
		Start: start,
		End:   start.AddDate(0, 0, NextWindowDays),
	}

	return res, nil
}

// cycleEnd adds one cycle to anchor; under roll-forward it keeps adding whole
// cycles until the date is strictly after now.
func (p *Projector) cycleEnd(anchor time.Time, days int, now time.Time) time.Time {
	end := anchor.AddDate(0, 0, days)
	if p.cfg.Policy != CyclePolicyRollForward {
		return end
	}
	if !end.After(now) {
		behind := int(now.Sub(end).Hours()/24)/days + 1
		end = end.AddDate(0, 0, behind*days)
	}
	return end
}

// lowestLow returns the first bar holding the minimum low.
func lowestLow(series models.PriceSeries) PricePoint {
	low := PricePoint{Price: series[0].Low, Date: series[0].Date}
	for _, b := range series[1:] {
		if b.Low < low.Price {
			low = PricePoint{Price: b.Low, Date: b.Date}
		}
	}
	return low
}

func highestHigh(series models.PriceSeries) float64 {
	h := series[0].High
	for _, b := range series[1:] {
		if b.High > h {
			h = b.High
		}
	}
	return h
}
