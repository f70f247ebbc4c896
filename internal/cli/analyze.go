package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"z88-quant/internal/analysis"
	"z88-quant/internal/analysis/indicators"
	"z88-quant/internal/analysis/patterns"
	"z88-quant/internal/analysis/scoring"
	"z88-quant/internal/ingest"
	"z88-quant/internal/models"
	"z88-quant/internal/runner"
	"z88-quant/pkg/utils"
)

func addAnalysisCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newAnalyzeCmd(app))
	rootCmd.AddCommand(newGannCmd())
	rootCmd.AddCommand(newScreenCmd(app))
	rootCmd.AddCommand(newExportCmd(app))
}

func newAnalyzeCmd(app *App) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "analyze <snapshot.csv> [SYMBOL...]",
		Short: "Analyse symbols from a daily snapshot",
		Long: `Analyse every symbol in the snapshot file, or only the symbols listed.

Each symbol's price history comes from the configured provider. Symbols
without history still get Gann levels and Fibonacci targets from the close.`,
		Example: `  z88 analyze snapshot.csv
  z88 analyze snapshot.csv COMI ETEL
  z88 analyze snapshot.csv COMI --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			snapshots, err := loadSnapshots(args[0], args[1:])
			if err != nil {
				return err
			}

			r, err := app.Runner(offline)
			if err != nil {
				return err
			}
			batch, err := r.Run(commandContext(cmd), snapshots)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(batch)
			}
			for _, res := range batch.Results {
				printResult(output, res)
			}
			printSetups(output, batch.Setups())
			printFailures(output, batch.Failures)
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "skip fetching history; snapshot-only analysis")
	return cmd
}

func newGannCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "gann <price>",
		Short:   "Show Gann square-of-nine levels for a price",
		Example: "  z88 gann 124.8",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			price, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
			if err != nil {
				return fmt.Errorf("invalid price %q", args[0])
			}
			levels, err := indicators.Gann(price)
			if err != nil {
				return err
			}
			targets, err := indicators.Targets(price)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"gann": levels, "targets": targets})
			}

			output.Bold("Gann levels for %s", utils.FormatPrice(price))
			table := NewTable(output, "ANGLE", "LEVEL", "CHANGE")
			for _, l := range levels.Levels {
				table.AddRow(l.Label, utils.FormatPrice(l.Price), utils.FormatPercent((l.Price-price)/price*100))
			}
			table.Render()
			output.Println()
			output.Printf("Targets  1.618 → %s   2.618 → %s\n",
				output.Cyan(utils.FormatPrice(targets.Target161)), output.Cyan(utils.FormatPrice(targets.Target261)))
			return nil
		},
	}
}

func newScreenCmd(app *App) *cobra.Command {
	var threshold float64
	var limit int
	var asOf string

	cmd := &cobra.Command{
		Use:   "screen <snapshot.csv>",
		Short: "List liquidity squeeze candidates",
		Long: `List symbols whose liquidity inflow exceeds the threshold, highest first,
with the expected reversal date.`,
		Example: `  z88 screen snapshot.csv
  z88 screen snapshot.csv --threshold 70 --limit 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			snapshots, err := loadSnapshots(args[0], nil)
			if err != nil {
				return err
			}

			cfg := scoring.SqueezeConfig{
				Threshold:    app.Config.Analysis.SqueezeThreshold,
				Limit:        app.Config.Analysis.SqueezeLimit,
				ReversalDays: app.Config.Analysis.ReversalDays,
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Threshold = threshold
			}
			if cmd.Flags().Changed("limit") {
				cfg.Limit = limit
			}
			day := time.Now()
			if asOf != "" {
				day, err = time.Parse(models.DateLayout, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of %q: want YYYY-MM-DD", asOf)
				}
			}

			candidates, err := scoring.Squeeze(snapshots, cfg, day)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(candidates)
			}
			if len(candidates) == 0 {
				output.Warning("No symbols above %.0f%% liquidity inflow", cfg.Threshold)
				return nil
			}

			output.Bold("Liquidity squeeze (inflow > %.0f%%)", cfg.Threshold)
			table := NewTable(output, "SYMBOL", "COMPANY", "CLOSE", "INFLOW", "REVERSAL")
			for _, c := range candidates {
				table.AddRow(c.Symbol, c.CompanyName, utils.FormatPrice(c.Close),
					output.Green(fmt.Sprintf("%.1f%%", c.LiquidityInflowPct)), utils.FormatDate(c.ReversalDate))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", scoring.DefaultSqueezeThreshold, "minimum liquidity inflow percent")
	cmd.Flags().IntVar(&limit, "limit", scoring.DefaultSqueezeLimit, "maximum candidates (0 for all)")
	cmd.Flags().StringVar(&asOf, "as-of", "", "screen date (YYYY-MM-DD, default today)")
	return cmd
}

func newExportCmd(app *App) *cobra.Command {
	var out string
	var offline bool

	cmd := &cobra.Command{
		Use:   "export <snapshot.csv>",
		Short: "Analyse a snapshot and write the full table as CSV",
		Example: `  z88 export snapshot.csv -o analysis.csv
  z88 export snapshot.csv --offline > gann.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots, err := loadSnapshots(args[0], nil)
			if err != nil {
				return err
			}
			r, err := app.Runner(offline)
			if err != nil {
				return err
			}
			batch, err := r.Run(commandContext(cmd), snapshots)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := ingest.WriteResults(w, batch.Results); err != nil {
				return err
			}
			if out != "" && out != "-" {
				NewOutput(cmd).Success("✓ Wrote %d rows to %s", len(batch.Results), out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip fetching history; snapshot-only analysis")
	return cmd
}

// loadSnapshots reads the snapshot file and keeps only symbols, if any are given.
func loadSnapshots(path string, symbols []string) ([]models.StockSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snapshots, err := ingest.ReadSnapshots(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(symbols) == 0 {
		return snapshots, nil
	}

	selected := make([]models.StockSnapshot, 0, len(symbols))
	for _, s := range symbols {
		snap, err := ingest.Find(snapshots, s)
		if err != nil {
			return nil, err
		}
		selected = append(selected, snap)
	}
	return selected, nil
}

func printResult(output *Output, res *analysis.Result) {
	header := res.Symbol
	if res.CompanyName != "" {
		header += "  " + res.CompanyName
	}
	output.Bold("%s", header)
	output.Printf("  Close      %s   inflow %.1f%%   bars %d\n",
		utils.FormatPrice(res.Close), res.LiquidityInflowPct, res.SeriesBars)

	if lv := res.Levels; lv.Pivot != 0 || lv.Support1 != 0 || lv.Resistance1 != 0 {
		output.Printf("  Levels     pivot %s   S1 %s   R1 %s\n",
			utils.FormatPrice(lv.Pivot), utils.FormatPrice(lv.Support1), utils.FormatPrice(lv.Resistance1))
	}
	if res.Gann != nil {
		parts := make([]string, len(res.Gann.Levels))
		for i, l := range res.Gann.Levels {
			parts[i] = l.Label + " " + utils.FormatPrice(l.Price)
		}
		output.Printf("  Gann       %s\n", strings.Join(parts, "   "))
	}
	if res.Targets != nil {
		output.Printf("  Targets    1.618 → %s   2.618 → %s\n",
			utils.FormatPrice(res.Targets.Target161), utils.FormatPrice(res.Targets.Target261))
	}
	if w := res.Waves; w != nil {
		output.Printf("  Waves      low %s (%s)   high %s   W3 %s   W5 %s   end %s\n",
			utils.FormatPrice(w.GrandLow.Price), utils.FormatDate(w.GrandLow.Date), utils.FormatPrice(w.GrandHigh),
			output.Cyan(utils.FormatPrice(w.Wave3Target)), output.Cyan(utils.FormatPrice(w.Wave5Target)),
			utils.FormatDate(w.GrandCycleEndDate))
		output.Printf("  Sub-wave   low %s (%s)   target %s   end %s   next %s → %s\n",
			utils.FormatPrice(w.SubLow.Price), utils.FormatDate(w.SubLow.Date), utils.FormatPrice(w.SubWaveTarget),
			utils.FormatDate(w.SubCycleEndDate), utils.FormatDate(w.NextCycleWindow.Start), utils.FormatDate(w.NextCycleWindow.End))
		if w.LowConfidence {
			output.Dim("             low confidence: %s", strings.Join(w.Notes, "; "))
		}
	}
	if ind := res.Indicators; ind != nil {
		output.Printf("  RSI14 %s   MACD %s / %s   BB %s – %s (MA20 %s)\n",
			utils.FormatOptionalPrice(ind.RSI14), utils.FormatOptionalPrice(ind.MACD), utils.FormatOptionalPrice(ind.MACDSignal),
			utils.FormatOptionalPrice(ind.BollingerLower), utils.FormatOptionalPrice(ind.BollingerUpper),
			utils.FormatOptionalPrice(ind.MovingAverage20))
	}
	if c := res.Classification; c != nil {
		label := string(c.Label)
		switch c.Label {
		case patterns.Breakout:
			label = output.Green(label)
		case patterns.AccumulationAtLow:
			label = output.Yellow(label)
		}
		output.Printf("  Setup      %s (%.0f)  %s\n", label, c.Score, output.DimText(c.Rationale))
	}
	for _, field := range sortedAbsent(res) {
		output.Printf("  %s\n", output.DimText(fmt.Sprintf("no %s: %s", field, res.Absent[field])))
	}
	output.Println()
}

func printSetups(output *Output, setups []scoring.Setup) {
	if len(setups) == 0 {
		return
	}
	output.Bold("Ranked setups")
	table := NewTable(output, "SYMBOL", "SETUP", "SCORE", "CLOSE")
	for _, s := range setups {
		table.AddRow(s.Symbol, string(s.Label), fmt.Sprintf("%.0f", s.Score), utils.FormatPrice(s.Close))
	}
	table.Render()
	output.Println()
}

func printFailures(output *Output, failures []runner.Failure) {
	for _, f := range failures {
		output.Warning("⚠ %s %s: %s", f.Symbol, f.Stage, f.Error)
	}
}

func sortedAbsent(res *analysis.Result) []string {
	fields := make([]string, 0, len(res.Absent))
	for _, f := range []string{
		analysis.FieldGann, analysis.FieldTargets, analysis.FieldWaves, analysis.FieldIndicators,
		analysis.FieldRSI, analysis.FieldMACD, analysis.FieldBollinger, analysis.FieldClassification,
	} {
		if res.IsAbsent(f) {
			fields = append(fields, f)
		}
	}
	return fields
}
