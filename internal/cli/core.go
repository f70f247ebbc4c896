package cli

import (
	"github.com/spf13/cobra"

	"z88-quant/internal/config"
)

func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
				return
			}
			output.Printf("z88 v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.Config.Dir)
			if output.IsJSON() {
				output.JSON(map[string]string{"dir": app.Config.Dir, "path": path})
				return
			}
			output.Println(path)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Analysis")
	output.Printf("  Cycle policy:      %s\n", cfg.Analysis.CyclePolicy)
	output.Printf("  Sub-cycle bars:    %d\n", cfg.Analysis.SubCycleLookback)
	output.Printf("  Classifier bars:   %d\n", cfg.Analysis.ClassifierLookback)
	output.Printf("  History days:      %d\n", cfg.Analysis.HistoryDays)
	output.Printf("  Workers:           %d\n", cfg.Analysis.Workers)
	output.Printf("  Squeeze:           > %.0f%%, top %d, reversal +%dd\n",
		cfg.Analysis.SqueezeThreshold, cfg.Analysis.SqueezeLimit, cfg.Analysis.ReversalDays)
	output.Println()

	output.Bold("Provider")
	output.Printf("  Kind:              %s\n", cfg.Provider.Kind)
	output.Printf("  Exchange:          %s\n", cfg.Provider.Exchange)
	if cfg.IsKite() {
		output.Printf("  Kite API key:      %v\n", cfg.Credentials.Kite.APIKey != "")
	} else {
		output.Printf("  CSV directory:     %s\n", cfg.Provider.CSVDir)
	}
	output.Printf("  Timeout:           %s\n", cfg.Provider.Timeout)
	output.Printf("  Rate:              %.1f/s, %d retries\n", cfg.Provider.RatePerSecond, cfg.Provider.MaxRetries)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Store:             %v (%s)\n", cfg.Store.Enabled, cfg.Store.Driver)
	output.Printf("  Redis cache:       %v %s\n", cfg.Cache.Enabled, cfg.Cache.Addr)
	output.Println()

	output.Bold("Service")
	output.Printf("  Listen:            %s\n", cfg.Server.Addr)
	output.Printf("  Schedule:          %v (%s)\n", cfg.Schedule.Enabled, cfg.Schedule.Spec)
	output.Printf("  Log level:         %s\n", cfg.Log.Level)
}
