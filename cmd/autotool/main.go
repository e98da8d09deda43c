package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"autotool/internal/config"
	"autotool/internal/logging"
	"autotool/internal/telemetry"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	dataDir    string
	verbose    bool
	timeout    time.Duration

	cfg               *config.Config
	shutdownTelemetry telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "autotool",
	Short: "autotool - self-extending capability registry and task runner",
	Long: `autotool turns a natural-language request into an ordered plan of small Go
scripts, runs them against a registry of versioned, self-testing capabilities,
repairs failing scripts with the model, and remembers what worked.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if err := logging.Initialize(cfg.LoggingOptions()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		shutdownTelemetry, err = telemetry.Setup(telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     cfg.Version,
			PrettyPrint: cfg.Telemetry.PrettyPrint,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		logging.BootDebug("config loaded from %q, data dir %s", configPath, cfg.DataDir)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdownTelemetry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(ctx)
		}
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
