package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"z88-quant/internal/ingest"
	"z88-quant/internal/models"
	"z88-quant/internal/provider"
	"z88-quant/internal/store"
	"z88-quant/pkg/utils"
)

func addDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newFetchCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
}

func newFetchCmd(app *App) *cobra.Command {
	var days int
	var out string

	cmd := &cobra.Command{
		Use:   "fetch <SYMBOL>",
		Short: "Fetch daily history for a symbol",
		Long: `Fetch daily bars from the configured provider. With the store enabled the
bars are saved and later runs read them locally.`,
		Example: `  z88 fetch COMI
  z88 fetch RELIANCE --days 365 -o RELIANCE.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := models.NormalizeSymbol(args[0])

			p, err := app.SeriesProvider()
			if err != nil {
				return err
			}
			if days <= 0 {
				days = app.Config.Analysis.HistoryDays
			}
			from, to := provider.Window(time.Now(), days)

			ctx := commandContext(cmd)
			if app.Config.Provider.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, app.Config.Provider.Timeout)
				defer cancel()
			}
			series, err := p.History(ctx, symbol, from, to)
			if err != nil {
				return err
			}

			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				if err := ingest.WriteSeries(f, series); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"symbol":   symbol,
					"provider": p.Name(),
					"bars":     series,
				})
			}
			if series.IsEmpty() {
				output.Warning("No bars for %s between %s and %s", symbol, utils.FormatDate(from), utils.FormatDate(to))
				return nil
			}
			first, last := series[0], series.Last()
			output.Success("✓ %s: %d bars from %s (%s → %s)", symbol, series.Len(), p.Name(),
				utils.FormatDate(first.Date), utils.FormatDate(last.Date))
			output.Printf("  Last  O %s  H %s  L %s  C %s  V %s\n",
				utils.FormatPrice(last.Open), utils.FormatPrice(last.High), utils.FormatPrice(last.Low),
				utils.FormatPrice(last.Close), utils.FormatVolume(float64(last.Volume)))
			if out != "" {
				output.Dim("Wrote %s", out)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "calendar days of history (default analysis.history_days)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "also write the bars to a CSV file")
	return cmd
}

func newHistoryCmd(app *App) *cobra.Command {
	var limit int
	var label string
	var runs bool

	cmd := &cobra.Command{
		Use:   "history [SYMBOL]",
		Short: "Show stored analyses or batch runs",
		Example: `  z88 history COMI
  z88 history --label Breakout --limit 20
  z88 history --runs`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.Store()
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("history store is disabled (store.enabled = false)")
			}
			ctx := commandContext(cmd)

			if runs {
				records, err := st.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(records)
				}
				table := NewTable(output, "RUN", "STARTED", "DURATION", "SYMBOLS", "FAILURES")
				for _, r := range records {
					table.AddRow(r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"),
						r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
						fmt.Sprint(r.Symbols), fmt.Sprint(r.Failures))
				}
				table.Render()
				return nil
			}

			filter := store.AnalysisFilter{Label: label, Limit: limit}
			if len(args) == 1 {
				filter.Symbol = models.NormalizeSymbol(args[0])
			}
			records, err := st.ListAnalyses(ctx, filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Warning("No stored analyses")
				return nil
			}
			table := NewTable(output, "DATE", "SYMBOL", "CLOSE", "SETUP", "SCORE", "W3", "W5")
			for _, r := range records {
				w3, w5 := "-", "-"
				if r.Result != nil && r.Result.Waves != nil {
					w3 = utils.FormatPrice(r.Result.Waves.Wave3Target)
					w5 = utils.FormatPrice(r.Result.Waves.Wave5Target)
				}
				setup := r.Label
				if setup == "" {
					setup = "-"
				}
				table.AddRow(r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Symbol, utils.FormatPrice(r.Close),
					setup, fmt.Sprintf("%.0f", r.Score), w3, w5)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.Flags().StringVar(&label, "label", "", "only this setup label (Breakout, AccumulationAtLow, Neutral)")
	cmd.Flags().BoolVar(&runs, "runs", false, "list batch runs instead of analyses")
	return cmd
}
