// Package scheduler re-runs the analysis batch on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"z88-quant/internal/ingest"
	"z88-quant/internal/logging"
	"z88-quant/internal/models"
	"z88-quant/internal/notify"
	"z88-quant/internal/runner"
)

// BatchRunner runs one analysis batch.
type BatchRunner interface {
	Run(ctx context.Context, snapshots []models.StockSnapshot) (*runner.Batch, error)
}

// Publisher receives every completed batch.
type Publisher interface {
	Publish(batch *runner.Batch, snapshots []models.StockSnapshot)
}

// Notifier delivers batch summaries.
type Notifier interface {
	Send(ctx context.Context, n notify.Notification) error
}

// SnapshotLoader returns the current snapshot table.
type SnapshotLoader func() ([]models.StockSnapshot, error)

// FileLoader reads the snapshot CSV at path on every call.
func FileLoader(path string) SnapshotLoader {
	return func() ([]models.StockSnapshot, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open snapshot file: %w", err)
		}
		defer f.Close()
		return ingest.ReadSnapshots(f)
	}
}

// topSetups is how many ranked setups a run logs.
const topSetups = 5

// Scheduler triggers analysis runs. Overlapping triggers are skipped.
type Scheduler struct {
	cron      *cron.Cron
	load      SnapshotLoader
	runner    BatchRunner
	publisher Publisher
	logger    zerolog.Logger
	timeout   time.Duration
	notifier  Notifier
	topN      int

	mu      sync.Mutex
	running bool
	last    *runner.Batch
}

// New creates a scheduler. publisher may be nil.
func New(load SnapshotLoader, r BatchRunner, publisher Publisher, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		load:      load,
		runner:    r,
		publisher: publisher,
		logger:    logging.WithOperation(logger, "scheduled_analysis"),
		timeout:   30 * time.Minute,
	}
}

// SetNotifier sends a summary of the top setups after every published run.
func (s *Scheduler) SetNotifier(n Notifier, top int) {
	s.notifier = n
	s.topN = top
}

// Register adds the analysis job under a six-field cron spec (seconds first).
func (s *Scheduler) Register(ctx context.Context, spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.RunNow(ctx) }); err != nil {
		return fmt.Errorf("register analysis job %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// Next returns the next scheduled run, or zero if nothing is scheduled.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// Last returns the most recent successful batch.
func (s *Scheduler) Last() *runner.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunNow loads the snapshot, runs a batch and publishes it. It returns false
// if another run was in progress or the run failed.
func (s *Scheduler) RunNow(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("Previous analysis run still in progress, skipping")
		return false
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	snapshots, err := s.load()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load snapshots")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	batch, err := s.runner.Run(ctx, snapshots)
	if err != nil {
		s.logger.Error().Err(err).Msg("Analysis run failed")
		return false
	}

	s.mu.Lock()
	s.last = batch
	s.mu.Unlock()
	if s.publisher != nil {
		s.publisher.Publish(batch, snapshots)
	}

	setups := batch.Setups()
	if len(setups) > topSetups {
		setups = setups[:topSetups]
	}
	names := make([]string, len(setups))
	for i, st := range setups {
		names[i] = st.String()
	}
	s.logger.Info().
		Str("run_id", batch.ID).
		Int("symbols", len(batch.Results)).
		Int("failures", len(batch.Failures)).
		Strs("top_setups", names).
		Msg("Scheduled analysis published")

	if s.notifier != nil {
		if err := s.notifier.Send(ctx, notify.BatchSummary(batch, s.topN)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send batch summary")
		}
	}
	return true
}
