package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runsLimit int

// runsCmd shows run history
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: openWith(appOptions{runs: true}, func(cmd *cobra.Command, a *app, args []string) error {
		runs, err := a.runs.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		for _, r := range runs {
			status := successStyle.Render("ok  ")
			if !r.Success {
				status = errorStyle.Render("fail")
			}
			if r.FinishedAt == nil {
				status = warningStyle.Render("open")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n",
				status, mutedStyle.Render(r.StartedAt.Format("2006-01-02 15:04")), r.RunID, r.Request)
		}
		return nil
	}),
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: openWith(appOptions{runs: true}, func(cmd *cobra.Command, a *app, args []string) error {
		run, subtasks, err := a.runs.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"run": run, "subtasks": subtasks})
	}),
}

func init() {
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
}
