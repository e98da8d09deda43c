package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

var runJSON bool

// runCmd executes a single request
var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Decompose and execute a natural-language request",
	Long: `Plans the request as subtasks, executes each one as a sandboxed Go script
against the capability registry, repairs failing scripts and prints the answer.
A confident match in memory is adapted instead of re-planned.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequest,
}

func init() {
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full result as JSON")
}

func runRequest(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := openApp(ctx, appOptions{orch: true})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	sub := a.bus.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range sub {
			if !runJSON {
				printEvent(out, ev)
			}
		}
	}()

	request := strings.Join(args, " ")
	res := a.orch.Run(ctx, request)
	a.bus.Unsubscribe(sub)
	wg.Wait()

	if runJSON {
		return printJSON(out, res)
	}
	if !res.Success {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Run failed: "+res.Error))
		return fmt.Errorf("run %s failed", res.RunID)
	}
	if res.FromMemory {
		fmt.Fprintln(out, mutedStyle.Render("(adapted from memory "+res.MemoryID+")"))
	}
	fmt.Fprint(out, renderMarkdown(res.Response))
	return nil
}
