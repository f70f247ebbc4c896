// Package scoring screens the daily snapshot and ranks analysed setups.
package scoring

import (
	"fmt"
	"sort"
	"time"

	"z88-quant/internal/analysis"
	"z88-quant/internal/analysis/patterns"
	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

// FilterField is a snapshot column a filter reads.
type FilterField string

const (
	FieldLiquidityInflow FilterField = "liquidity_inflow"
	FieldClose           FilterField = "close"
)

// FilterOperator represents the comparison operator for a filter.
type FilterOperator string

const (
	OpGreaterThan      FilterOperator = ">"
	OpLessThan         FilterOperator = "<"
	OpGreaterThanEqual FilterOperator = ">="
	OpLessThanEqual    FilterOperator = "<="
)

// Filter represents a single screener condition on a snapshot.
type Filter struct {
	Field    FilterField
	Operator FilterOperator
	Value    float64
}

// Match reports whether the snapshot satisfies the filter.
func (f Filter) Match(s models.StockSnapshot) (bool, error) {
	var v float64
	switch f.Field {
	case FieldLiquidityInflow:
		v = s.LiquidityInflowPct
	case FieldClose:
		v = s.Close
	default:
		return false, apperrors.NewValidationError("field", f.Field, "unknown filter field")
	}

	switch f.Operator {
	case OpGreaterThan:
		return v > f.Value, nil
	case OpLessThan:
		return v < f.Value, nil
	case OpGreaterThanEqual:
		return v >= f.Value, nil
	case OpLessThanEqual:
		return v <= f.Value, nil
	default:
		return false, apperrors.NewValidationError("operator", f.Operator, "unknown operator")
	}
}

// Squeeze defaults.
const (
	DefaultSqueezeThreshold = 60.0
	DefaultSqueezeLimit     = 10
	DefaultReversalDays     = 7
)

// SqueezeConfig configures the liquidity squeeze screen.
type SqueezeConfig struct {
	Threshold    float64
	Limit        int
	ReversalDays int
}

// DefaultSqueezeConfig returns inflow > 60%, top 10, reversal in 7 days.
func DefaultSqueezeConfig() SqueezeConfig {
	return SqueezeConfig{
		Threshold:    DefaultSqueezeThreshold,
		Limit:        DefaultSqueezeLimit,
		ReversalDays: DefaultReversalDays,
	}
}

// SqueezeCandidate is a symbol approaching a price expansion.
type SqueezeCandidate struct {
	Symbol             string    `json:"symbol"`
	CompanyName        string    `json:"company_name"`
	Close              float64   `json:"close"`
	LiquidityInflowPct float64   `json:"liquidity_inflow_pct"`
	ReversalDate       time.Time `json:"reversal_date"`
}

// Squeeze returns snapshots whose liquidity inflow exceeds the threshold,
// highest inflow first, capped at Limit.
func Squeeze(snapshots []models.StockSnapshot, cfg SqueezeConfig, asOf time.Time) ([]SqueezeCandidate, error) {
	filter := Filter{Field: FieldLiquidityInflow, Operator: OpGreaterThan, Value: cfg.Threshold}
	reversal := models.Day(asOf).AddDate(0, 0, cfg.ReversalDays)

	var out []SqueezeCandidate
	for _, s := range snapshots {
		ok, err := filter.Match(s)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, SqueezeCandidate{
			Symbol:             s.Symbol,
			CompanyName:        s.CompanyName,
			Close:              s.Close,
			LiquidityInflowPct: s.LiquidityInflowPct,
			ReversalDate:       reversal,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LiquidityInflowPct > out[j].LiquidityInflowPct
	})
	if cfg.Limit > 0 && len(out) > cfg.Limit {
		out = out[:cfg.Limit]
	}
	return out, nil
}

// Setup is a ranked classification from an analysis batch.
type Setup struct {
	Symbol    string         `json:"symbol"`
	Label     patterns.Label `json:"label"`
	Score     float64        `json:"score"`
	Close     float64        `json:"close"`
	Rationale string         `json:"rationale"`
}

// RankSetups returns non-neutral classifications ordered by score, then symbol.
func RankSetups(results []*analysis.Result) []Setup {
	var setups []Setup
	for _, r := range results {
		if r == nil || r.Classification == nil || r.Classification.Label == patterns.Neutral {
			continue
		}
		setups = append(setups, Setup{
			Symbol:    r.Symbol,
			Label:     r.Classification.Label,
			Score:     r.Classification.Score,
			Close:     r.Close,
			Rationale: r.Classification.Rationale,
		})
	}
	sort.SliceStable(setups, func(i, j int) bool {
		if setups[i].Score != setups[j].Score {
			return setups[i].Score > setups[j].Score
		}
		return setups[i].Symbol < setups[j].Symbol
	})
	return setups
}

// String renders a setup for logs.
func (s Setup) String() string {
	return fmt.Sprintf("%s %s (%.0f)", s.Symbol, s.Label, s.Score)
}
