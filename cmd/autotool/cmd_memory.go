package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var memoryThreshold float64

// memoryCmd inspects the memory index
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect remembered requests",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Find remembered requests similar to text",
	Args:  cobra.MinimumNArgs(1),
	RunE: openWith(appOptions{memory: true}, func(cmd *cobra.Command, a *app, args []string) error {
		threshold := memoryThreshold
		if threshold <= 0 {
			threshold = a.memory.Threshold()
		}
		hits, err := a.memory.Search(cmd.Context(), strings.Join(args, " "), threshold)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No similar requests."))
			return nil
		}
		for _, h := range hits {
			fmt.Fprintf(cmd.OutOrStdout(), "%s similarity=%.2f confidence=%.2f adjusted=%.2f\n  %s\n",
				titleStyle.Render(h.Record.ID), h.Similarity, h.Record.Confidence, h.Adjusted, h.Record.Input)
		}
		return nil
	}),
}

func init() {
	memorySearchCmd.Flags().Float64Var(&memoryThreshold, "threshold", 0, "Similarity floor (default from config)")
	memoryCmd.AddCommand(memorySearchCmd)
}
