// Package cli provides the z88 command-line interface.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"z88-quant/internal/analysis"
	"z88-quant/internal/cache"
	"z88-quant/internal/config"
	"z88-quant/internal/health"
	"z88-quant/internal/logging"
	"z88-quant/internal/metrics"
	"z88-quant/internal/provider"
	"z88-quant/internal/runner"
	"z88-quant/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

const maxHeapBytes = 1 << 30

// App holds the application dependencies. Config and Logger are set before
// any command runs; the rest is built on demand.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Registry
	Health  *health.Checker

	store   store.Store
	closers []func() error
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "z88",
		Short: "Gann, wave and indicator analysis for daily stock snapshots",
		Long: `z88 derives Gann square-of-nine levels, RSI/MACD/Bollinger indicators,
Elliott wave targets with Fibonacci cycle dates and a volume-confirmed setup
label from a daily market snapshot and each symbol's price history.

Use 'z88 <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.Logger = logging.NewLoggerWithConfig(cfg.Log)

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			app.Metrics = metrics.NewRegistry()
			app.Health = health.NewChecker(5 * time.Second)
			app.Health.Register("memory", health.MemoryCheck(maxHeapBytes))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/z88-quant)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addAnalysisCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	addServeCommand(rootCmd, app)
	addCoreCommands(rootCmd, app)

	return rootCmd
}

// Close releases everything opened by the App.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	a.store = nil
	return first
}

// Store opens the history store once. It returns nil when the store is disabled.
func (a *App) Store() (store.Store, error) {
	if a.store != nil || !a.Config.Store.Enabled {
		return a.store, nil
	}
	st, err := store.Open(a.Config.Store.Driver, a.Config.Store.DSN)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	a.Health.Register("store", health.PingCheck(st.Ping, 250*time.Millisecond))
	a.Logger.Debug().Str("driver", st.Driver()).Msg("History store opened")
	return st, nil
}

// SeriesProvider builds the configured provider, reading through the store when enabled.
func (a *App) SeriesProvider() (provider.SeriesProvider, error) {
	st, err := a.Store()
	if err != nil {
		return nil, err
	}
	var ss provider.SeriesStore
	if st != nil {
		ss = st
	}
	p, err := provider.FromConfig(a.Config, ss, a.Metrics, a.Logger)
	if err != nil {
		return nil, err
	}
	if r, ok := provider.FindResilient(p); ok {
		a.Health.Register("provider", health.BreakerCheck(r.State))
	}
	return p, nil
}

// ResultCache connects to Redis when enabled. A failed connection degrades to no cache.
func (a *App) ResultCache() cache.ResultCache {
	if !a.Config.Cache.Enabled {
		return cache.Nop{}
	}
	c := a.Config.Cache
	rc, err := cache.NewRedisCache(c.Addr, c.Password, c.DB, c.TTL)
	if err != nil {
		a.Logger.Warn().Err(err).Str("addr", c.Addr).Msg("Result cache unavailable, continuing without it")
		return cache.Nop{}
	}
	a.closers = append(a.closers, rc.Close)
	a.Health.Register("cache", health.PingCheck(rc.Ping, 100*time.Millisecond))
	return rc
}

// Runner wires the analyzer, provider, cache and store. With offline set no
// series are fetched and every result is snapshot-only.
func (a *App) Runner(offline bool) (*runner.Runner, error) {
	acfg, err := a.Config.AnalyzerConfig()
	if err != nil {
		return nil, err
	}
	deps := runner.Deps{
		Analyzer: analysis.NewAnalyzer(acfg),
		Cache:    a.ResultCache(),
		Metrics:  a.Metrics,
		Logger:   a.Logger,
	}
	st, err := a.Store()
	if err != nil {
		return nil, err
	}
	if st != nil {
		deps.Store = st
	}
	if !offline {
		p, err := a.SeriesProvider()
		if err != nil {
			return nil, fmt.Errorf("series provider: %w", err)
		}
		deps.Provider = p
	}
	return runner.New(deps, runner.OptionsFromConfig(a.Config)), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
