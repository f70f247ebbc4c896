package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"z88-quant/internal/analysis/scoring"
	"z88-quant/internal/notify"
	"z88-quant/internal/scheduler"
	"z88-quant/internal/server"
)

func addServeCommand(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newServeCmd(app))
}

func newServeCmd(app *App) *cobra.Command {
	var addr, snapshotPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the latest analysis over HTTP",
		Long: `Start the read-only HTTP API and, when scheduling is enabled, re-run the
analysis on the configured cron spec. The snapshot file is re-read on every run.`,
		Example: `  z88 serve
  z88 serve --addr :9000 --snapshot /data/snapshot.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := app.Config
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if snapshotPath == "" {
				snapshotPath = cfg.Schedule.SnapshotPath
			}

			st, err := app.Store()
			if err != nil {
				return err
			}
			opts := server.Options{
				Addr: addr,
				Squeeze: scoring.SqueezeConfig{
					Threshold:    cfg.Analysis.SqueezeThreshold,
					Limit:        cfg.Analysis.SqueezeLimit,
					ReversalDays: cfg.Analysis.ReversalDays,
				},
				Metrics: app.Metrics,
				Health:  app.Health,
				Logger:  app.Logger,
			}
			if st != nil {
				opts.Store = st
			}
			srv := server.New(opts)

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if snapshotPath != "" {
				r, err := app.Runner(false)
				if err != nil {
					return err
				}
				sched := scheduler.New(scheduler.FileLoader(snapshotPath), r, srv, app.Logger)
				if n := app.Notifier(); n != nil {
					sched.SetNotifier(n, cfg.Notify.TopSetups)
				}
				if cfg.Schedule.Enabled {
					if err := sched.Register(ctx, cfg.Schedule.Spec); err != nil {
						return err
					}
					sched.Start()
					defer sched.Stop()
				}
				go sched.RunNow(ctx)
			} else {
				output.Warning("No snapshot file configured; serving only /api/gann and /api/health")
			}

			output.Info("Listening on %s", addr)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "snapshot CSV to analyse (default schedule.snapshot_path)")
	return cmd
}

// Notifier returns the configured notification channels, or nil when disabled.
func (a *App) Notifier() *notify.MultiNotifier {
	if !a.Config.Notify.Enabled {
		return nil
	}
	var channels []notify.Channel
	if a.Config.HasWebhook() {
		channels = append(channels, notify.NewWebhookNotifier(a.Config.Notify.WebhookURL))
	}
	if a.Config.HasTelegram() {
		channels = append(channels, notify.NewTelegramNotifier(a.Config.Credentials.Telegram.BotToken, a.Config.Notify.TelegramChatID))
	}
	if len(channels) == 0 {
		return nil
	}
	return notify.NewMultiNotifier(channels...)
}
