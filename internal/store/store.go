// Package store persists historical series and analysis runs.
package store

import (
	"context"
	"time"

	"z88-quant/internal/analysis"
	"z88-quant/internal/models"
)

// Store defines the interface for data persistence.
type Store interface {
	// Series
	SaveSeries(ctx context.Context, symbol, source string, series models.PriceSeries) error
	GetSeries(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error)
	LatestBarDate(ctx context.Context, symbol string) (time.Time, bool, error)

	// Runs
	SaveRun(ctx context.Context, run RunRecord) error
	SaveAnalysis(ctx context.Context, runID string, result *analysis.Result) error
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]AnalysisRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	Close() error
}

// RunRecord summarises one batch run.
type RunRecord struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Symbols    int       `json:"symbols"`
	Failures   int       `json:"failures"`
}

// AnalysisRecord is a stored analysis result.
type AnalysisRecord struct {
	RunID     string           `json:"run_id"`
	Symbol    string           `json:"symbol"`
	CreatedAt time.Time        `json:"created_at"`
	Label     string           `json:"label"`
	Score     float64          `json:"score"`
	Close     float64          `json:"close"`
	Result    *analysis.Result `json:"result"`
}

// AnalysisFilter selects stored analyses. Zero fields match everything.
type AnalysisFilter struct {
	Symbol string
	RunID  string
	Label  string
	Limit  int
}
