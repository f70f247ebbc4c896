// Package runner analyses a snapshot batch: it fetches each symbol's series,
// consults the result cache, runs the analyzer and records the run.
package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"z88-quant/internal/analysis"
	"z88-quant/internal/analysis/scoring"
	"z88-quant/internal/cache"
	"z88-quant/internal/config"
	apperrors "z88-quant/internal/errors"
	"z88-quant/internal/logging"
	"z88-quant/internal/metrics"
	"z88-quant/internal/models"
	"z88-quant/internal/performance"
	"z88-quant/internal/provider"
	"z88-quant/internal/store"
)

// Failure stages.
const (
	StageFetch = "fetch"
	StageCache = "cache"
	StageStore = "store"
)

// Failure is a non-fatal problem with one symbol.
type Failure struct {
	Symbol string `json:"symbol"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

// Batch is the outcome of one run.
type Batch struct {
	ID         string             `json:"id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Results    []*analysis.Result `json:"results"`
	Failures   []Failure          `json:"failures,omitempty"`
}

// Find returns the result for symbol.
func (b *Batch) Find(symbol string) (*analysis.Result, error) {
	symbol = models.NormalizeSymbol(symbol)
	i := sort.Search(len(b.Results), func(i int) bool { return b.Results[i].Symbol >= symbol })
	if i < len(b.Results) && b.Results[i].Symbol == symbol {
		return b.Results[i], nil
	}
	return nil, apperrors.NewDataError("analysis", symbol, "not in batch "+b.ID, apperrors.ErrSymbolNotFound)
}

// Setups ranks the batch's non-neutral classifications.
func (b *Batch) Setups() []scoring.Setup {
	return scoring.RankSetups(b.Results)
}

// Options tunes a Runner.
type Options struct {
	Workers      int
	FetchTimeout time.Duration
	HistoryDays  int
	// Salt is mixed into cache keys; change it when the analysis configuration changes.
	Salt string
	// RollForward adds the current day to the salt, since projected dates move with it.
	RollForward bool
}

// Deps are the collaborators of a Runner. Provider, Cache, Store and Metrics may be nil.
type Deps struct {
	Analyzer *analysis.Analyzer
	Provider provider.SeriesProvider
	Cache    cache.ResultCache
	Store    store.Store
	Metrics  *metrics.Registry
	Logger   zerolog.Logger
}

// Runner runs analysis batches. It is safe for concurrent use.
type Runner struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New creates a runner.
func New(deps Deps, opts Options) *Runner {
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.NewAnalyzer(analysis.DefaultConfig())
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 730
	}
	return &Runner{deps: deps, opts: opts, now: time.Now}
}

// OptionsFromConfig derives runner options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	a := cfg.Analysis
	return Options{
		Workers:      a.Workers,
		FetchTimeout: cfg.Provider.Timeout,
		HistoryDays:  a.HistoryDays,
		Salt: fmt.Sprintf("sub=%d;policy=%s;cls=%d;days=%d",
			a.SubCycleLookback, strings.ToLower(a.CyclePolicy), a.ClassifierLookback, a.HistoryDays),
		RollForward: strings.EqualFold(a.CyclePolicy, "roll-forward"),
	}
}

// Run analyses every snapshot. Per-symbol problems are recorded in
// Batch.Failures; the error is non-nil only for empty input or a cancelled ctx.
func (r *Runner) Run(ctx context.Context, snapshots []models.StockSnapshot) (*Batch, error) {
	snapshots = dedupe(snapshots)
	if len(snapshots) == 0 {
		return nil, apperrors.NewValidationError("snapshots", 0, "no symbols to analyse")
	}

	batch := &Batch{ID: uuid.NewString(), StartedAt: r.now().UTC()}
	logger := logging.WithRunID(r.deps.Logger, batch.ID)
	logger.Info().Int("symbols", len(snapshots)).Msg("Analysis batch started")

	pool := performance.NewWorkerPool(r.opts.Workers)
	pool.Start()
	outcomes := performance.Map(ctx, pool, snapshots, func(ctx context.Context, s models.StockSnapshot) outcome {
		return r.analyse(ctx, s, logger)
	})
	pool.Stop()

	for _, o := range outcomes {
		batch.Results = append(batch.Results, o.result)
		batch.Failures = append(batch.Failures, o.failures...)
	}
	sort.Slice(batch.Results, func(i, j int) bool { return batch.Results[i].Symbol < batch.Results[j].Symbol })
	batch.FinishedAt = r.now().UTC()

	batch.Failures = append(batch.Failures, r.persist(ctx, batch)...)
	sort.SliceStable(batch.Failures, func(i, j int) bool { return batch.Failures[i].Symbol < batch.Failures[j].Symbol })

	r.deps.Metrics.ObserveBatch(len(batch.Results), batch.FinishedAt.Sub(batch.StartedAt))
	logger.Info().
		Int("symbols", len(batch.Results)).
		Int("failures", len(batch.Failures)).
		Dur("duration", batch.FinishedAt.Sub(batch.StartedAt)).
		Msg("Analysis batch completed")

	if err := ctx.Err(); err != nil {
		return batch, apperrors.Wrap(err, "analysis batch interrupted")
	}
	return batch, nil
}

type outcome struct {
	result   *analysis.Result
	failures []Failure
}

func (r *Runner) analyse(ctx context.Context, snap models.StockSnapshot, logger zerolog.Logger) outcome {
	symbol := models.NormalizeSymbol(snap.Symbol)
	logger = logging.WithSymbol(logger, symbol)
	var out outcome

	series, err := r.fetch(ctx, symbol)
	if err != nil {
		logger.Warn().Err(err).Msg("Series unavailable, analysing snapshot only")
		out.failures = append(out.failures, Failure{Symbol: symbol, Stage: StageFetch, Error: err.Error()})
	}

	key := cache.Key(snap, series, r.salt())
	if !series.IsEmpty() {
		cached, ok, err := r.deps.Cache.Get(ctx, key)
		switch {
		case err != nil:
			out.failures = append(out.failures, Failure{Symbol: symbol, Stage: StageCache, Error: err.Error()})
		case ok:
			r.deps.Metrics.CacheHit()
			out.result = cached
			return out
		default:
			r.deps.Metrics.CacheMiss()
		}
	}

	// The only error is a missing series, already reflected in Absent.
	res, _ := r.deps.Analyzer.Analyze(snap, series)
	out.result = res

	if !series.IsEmpty() {
		if err := r.deps.Cache.Set(ctx, key, res); err != nil {
			out.failures = append(out.failures, Failure{Symbol: symbol, Stage: StageCache, Error: err.Error()})
		}
	}

	ev := logging.AnalysisEvent{Symbol: res.Symbol, Bars: res.SeriesBars, Absent: absentFields(res)}
	label := "none"
	if res.Classification != nil {
		label = string(res.Classification.Label)
		ev.Label = label
		ev.Score = res.Classification.Score
	}
	r.deps.Metrics.ObserveAnalysis(label, ev.Absent)
	logging.LogAnalysis(logger, ev)
	return out
}

func (r *Runner) fetch(ctx context.Context, symbol string) (models.PriceSeries, error) {
	if r.deps.Provider == nil {
		return nil, apperrors.Wrap(apperrors.ErrMissingSeries, "no series provider configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.FetchTimeout)
		defer cancel()
	}
	from, to := provider.Window(r.now(), r.opts.HistoryDays)
	return r.deps.Provider.History(ctx, symbol, from, to)
}

func (r *Runner) salt() string {
	if r.opts.RollForward {
		return r.opts.Salt + ";day=" + models.Day(r.now()).Format(models.DateLayout)
	}
	return r.opts.Salt
}

// persist saves the run and its results. Store errors are returned as failures.
func (r *Runner) persist(ctx context.Context, batch *Batch) []Failure {
	if r.deps.Store == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var failures []Failure
	for _, res := range batch.Results {
		if err := r.deps.Store.SaveAnalysis(ctx, batch.ID, res); err != nil {
			failures = append(failures, Failure{Symbol: res.Symbol, Stage: StageStore, Error: err.Error()})
		}
	}
	run := store.RunRecord{
		ID:         batch.ID,
		StartedAt:  batch.StartedAt,
		FinishedAt: batch.FinishedAt,
		Symbols:    len(batch.Results),
		Failures:   len(batch.Failures) + len(failures),
	}
	if err := r.deps.Store.SaveRun(ctx, run); err != nil {
		r.deps.Logger.Error().Err(err).Str("run_id", batch.ID).Msg("Failed to save run")
	}
	return failures
}

func absentFields(res *analysis.Result) []string {
	if len(res.Absent) == 0 {
		return nil
	}
	fields := make([]string, 0, len(res.Absent))
	for f := range res.Absent {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func dedupe(snapshots []models.StockSnapshot) []models.StockSnapshot {
	seen := make(map[string]bool, len(snapshots))
	out := make([]models.StockSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		symbol := models.NormalizeSymbol(s.Symbol)
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		out = append(out, s)
	}
	return out
}
