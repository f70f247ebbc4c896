package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"z88-quant/internal/analysis"
	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/models"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	defaultQueryTimeout = 30 * time.Second

	// fixed width so text ordering matches time ordering
	timestampLayout = "2006-01-02T15:04:05.000000Z"
)

// SQLStore implements Store on SQLite or PostgreSQL through sqlx.
type SQLStore struct {
	db      *sqlx.DB
	driver  string
	timeout time.Duration
}

// Open connects to the database, configures the pool and creates the schema.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	case DriverPostgres:
	default:
		return nil, apperrors.NewValidationError("driver", driver, "unsupported database driver")
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLStore{db: db, driver: driver, timeout: defaultQueryTimeout}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Dates are stored as YYYY-MM-DD text and timestamps as fixed-width UTC text so the
// same schema and scans work on both drivers.
const schema = `
CREATE TABLE IF NOT EXISTS price_bars (
	symbol TEXT NOT NULL,
	date TEXT NOT NULL,
	open DOUBLE PRECISION NOT NULL,
	high DOUBLE PRECISION NOT NULL,
	low DOUBLE PRECISION NOT NULL,
	close DOUBLE PRECISION NOT NULL,
	volume BIGINT NOT NULL,
	source TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (symbol, date)
);

CREATE TABLE IF NOT EXISTS analysis_batches (
	run_id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	symbols INTEGER NOT NULL,
	failures INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_runs (
	run_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	created_at TEXT NOT NULL,
	label TEXT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	close DOUBLE PRECISION NOT NULL,
	result TEXT NOT NULL,
	PRIMARY KEY (run_id, symbol)
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_symbol ON analysis_runs(symbol, created_at);
`

func (s *SQLStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Driver returns the database driver name.
func (s *SQLStore) Driver() string {
	return s.driver
}

// Ping verifies the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// SaveSeries upserts bars for a symbol.
func (s *SQLStore) SaveSeries(ctx context.Context, symbol, source string, series models.PriceSeries) error {
	if len(series) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, s.db.Rebind(`
		INSERT INTO price_bars (symbol, date, open, high, low, close, volume, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			source = excluded.source,
			updated_at = excluded.updated_at
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	symbol = models.NormalizeSymbol(symbol)
	now := time.Now().UTC().Format(timestampLayout)
	for _, b := range series {
		_, err := stmt.ExecContext(ctx, symbol, b.Date.Format(models.DateLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume, source, now)
		if err != nil {
			return fmt.Errorf("failed to upsert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type barRow struct {
	Date   string  `db:"date"`
	Open   float64 `db:"open"`
	High   float64 `db:"high"`
	Low    float64 `db:"low"`
	Close  float64 `db:"close"`
	Volume int64   `db:"volume"`
}

// GetSeries returns bars with from <= date <= to, ascending. A zero bound is open.
func (s *SQLStore) GetSeries(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT date, open, high, low, close, volume FROM price_bars WHERE symbol = ?`
	args := []interface{}{models.NormalizeSymbol(symbol)}
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, models.Day(from).Format(models.DateLayout))
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, models.Day(to).Format(models.DateLayout))
	}
	query += ` ORDER BY date ASC`

	var rows []barRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}

	series := make(models.PriceSeries, 0, len(rows))
	for _, r := range rows {
		date, err := time.Parse(models.DateLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("bad stored date %q: %w", r.Date, err)
		}
		series = append(series, models.PriceBar{
			Date:   date,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return series, nil
}

// LatestBarDate returns the newest stored bar date for a symbol.
func (s *SQLStore) LatestBarDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var latest sql.NullString
	err := s.db.GetContext(ctx, &latest, s.db.Rebind(`SELECT MAX(date) FROM price_bars WHERE symbol = ?`),
		models.NormalizeSymbol(symbol))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, fmt.Errorf("failed to get latest bar: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	date, err := time.Parse(models.DateLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bad stored date %q: %w", latest.String, err)
	}
	return date, true, nil
}

// SaveRun upserts a batch summary.
func (s *SQLStore) SaveRun(ctx context.Context, run RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO analysis_batches (run_id, started_at, finished_at, symbols, failures)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = excluded.finished_at,
			symbols = excluded.symbols,
			failures = excluded.failures
	`), run.ID, run.StartedAt.UTC().Format(timestampLayout), run.FinishedAt.UTC().Format(timestampLayout),
		run.Symbols, run.Failures)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// SaveAnalysis stores a result as JSON under a run id.
func (s *SQLStore) SaveAnalysis(ctx context.Context, runID string, result *analysis.Result) error {
	if result == nil {
		return apperrors.NewValidationError("result", nil, "result is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	label, score := "", 0.0
	if result.Classification != nil {
		label = string(result.Classification.Label)
		score = result.Classification.Score
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO analysis_runs (run_id, symbol, created_at, label, score, close, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, symbol) DO UPDATE SET
			created_at = excluded.created_at,
			label = excluded.label,
			score = excluded.score,
			close = excluded.close,
			result = excluded.result
	`), runID, result.Symbol, time.Now().UTC().Format(timestampLayout), label, score, result.Close, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

type analysisRow struct {
	RunID     string  `db:"run_id"`
	Symbol    string  `db:"symbol"`
	CreatedAt string  `db:"created_at"`
	Label     string  `db:"label"`
	Score     float64 `db:"score"`
	Close     float64 `db:"close"`
	Result    string  `db:"result"`
}

// ListAnalyses returns stored analyses, newest first.
func (s *SQLStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]AnalysisRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT run_id, symbol, created_at, label, score, close, result FROM analysis_runs WHERE 1=1`
	var args []interface{}
	if filter.Symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, models.NormalizeSymbol(filter.Symbol))
	}
	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Label != "" {
		query += ` AND label = ?`
		args = append(args, filter.Label)
	}
	query += ` ORDER BY created_at DESC, symbol ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	var rows []analysisRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}

	records := make([]AnalysisRecord, 0, len(rows))
	for _, r := range rows {
		created, err := time.Parse(timestampLayout, r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("bad stored timestamp %q: %w", r.CreatedAt, err)
		}
		var result analysis.Result
		if err := json.Unmarshal([]byte(r.Result), &result); err != nil {
			return nil, fmt.Errorf("failed to decode stored result for %s: %w", r.Symbol, err)
		}
		records = append(records, AnalysisRecord{
			RunID:     r.RunID,
			Symbol:    r.Symbol,
			CreatedAt: created,
			Label:     r.Label,
			Score:     r.Score,
			Close:     r.Close,
			Result:    &result,
		})
	}
	return records, nil
}

type runRow struct {
	RunID      string `db:"run_id"`
	StartedAt  string `db:"started_at"`
	FinishedAt string `db:"finished_at"`
	Symbols    int    `db:"symbols"`
	Failures   int    `db:"failures"`
}

// ListRuns returns batch summaries, newest first.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT run_id, started_at, finished_at, symbols, failures FROM analysis_batches ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	runs := make([]RunRecord, 0, len(rows))
	for _, r := range rows {
		started, err := time.Parse(timestampLayout, r.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("bad stored timestamp %q: %w", r.StartedAt, err)
		}
		finished, err := time.Parse(timestampLayout, r.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("bad stored timestamp %q: %w", r.FinishedAt, err)
		}
		runs = append(runs, RunRecord{ID: r.RunID, StartedAt: started, FinishedAt: finished, Symbols: r.Symbols, Failures: r.Failures})
	}
	return runs, nil
}
