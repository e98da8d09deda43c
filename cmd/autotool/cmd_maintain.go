package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"autotool/internal/config"
	"autotool/internal/logging"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var maintainOnce bool

// maintainCmd runs the background maintenance service
var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Periodically test and improve capabilities",
	Long: `Runs the maintenance loop until interrupted. Every interval each capability
without a passing test is re-tested and failing ones are improved by the model.
Go files dropped into the drop-in directory are imported as capabilities, and
changes to the config file adjust the interval without a restart.`,
	Args: cobra.NoArgs,
	RunE: runMaintain,
}

func init() {
	maintainCmd.Flags().BoolVar(&maintainOnce, "once", false, "Run a single pass and exit")
}

func runMaintain(cmd *cobra.Command, args []string) error {
	if maintainOnce {
		return withModelRegistry(func(cmd *cobra.Command, a *app, args []string) error {
			report, err := a.registry.MaintainOnce(cmd.Context())
			if err != nil {
				return err
			}
			printReport(cmd, report)
			return nil
		})(cmd, args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, appOptions{model: true})
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	if _, statErr := os.Stat(configPath); statErr == nil {
		w, err := config.NewWatcher(configPath)
		if err != nil {
			return err
		}
		w.OnChange(func(c *config.Config) {
			a.registry.SetMaintenanceInterval(c.GetMaintenanceInterval())
		})
		g.Go(func() error { return w.Run(ctx) })
	} else {
		logging.BootDebug("config %s not found, reload disabled", configPath)
	}

	if dir := cfg.Registry.DropInDir; dir != "" {
		g.Go(func() error { return a.registry.Watch(ctx, cfg.ResolvePath(dir)) })
	}
	g.Go(func() error { return a.registry.RunMaintenance(ctx, cfg.GetMaintenanceInterval()) })

	fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render(
		fmt.Sprintf("Maintaining capabilities every %s (Ctrl+C to stop)", cfg.GetMaintenanceInterval())))
	return g.Wait()
}
