package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"autotool/internal/capability"
	"autotool/internal/registry"

	"github.com/spf13/cobra"
)

var (
	toolSchemaFile string
	toolSourceFile string
	toolTags       []string
	toolActive     bool
	toolParams     string
	toolQuery      string
)

// toolsCmd groups registry management commands
var toolsCmd = &cobra.Command{
	Use:     "tools",
	Aliases: []string{"capabilities", "caps"},
	Short:   "Manage registered capabilities",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered capabilities",
	Args:  cobra.NoArgs,
	RunE: withRegistry(func(cmd *cobra.Command, a *app, args []string) error {
		units, err := a.registry.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(units) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No capabilities registered."))
			return nil
		}
		sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })
		for _, u := range units {
			status := successStyle.Render("active")
			if !u.Active {
				status = mutedStyle.Render("inactive")
			}
			test := mutedStyle.Render("untested")
			if u.LastTestResult != nil {
				if u.LastTestResult.Success {
					test = successStyle.Render("tests pass")
				} else {
					test = errorStyle.Render("tests fail")
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %s  %s  %s\n",
				titleStyle.Render(u.Name), u.Version, status, test, u.Schema.Description)
		}
		return nil
	}),
}

var toolsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a capability with its metrics",
	Args:  cobra.ExactArgs(1),
	RunE: withRegistry(func(cmd *cobra.Command, a *app, args []string) error {
		u, err := a.registry.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		m, err := a.registry.Metrics(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "# %s `%s`\n\n%s\n\n", u.Name, u.Version, u.Schema.Description)
		fmt.Fprintf(&b, "**Signature:** `%s`\n\n", u.Schema.Signature)
		if len(u.Tags) > 0 {
			fmt.Fprintf(&b, "**Tags:** %s\n\n", strings.Join(u.Tags, ", "))
		}
		if m != nil {
			fmt.Fprintf(&b, "| executions | avg ms | error rate | usage | tests passed/failed |\n|---|---|---|---|---|\n")
			fmt.Fprintf(&b, "| %d | %.1f | %.2f | %d | %d/%d |\n\n",
				m.ExecutionStats.TotalExecutions, m.ExecutionStats.AverageExecutionTime,
				m.ErrorRate, m.UsageCount, m.TestResults.Passed, m.TestResults.Failed)
			fmt.Fprintf(&b, "**Versions:** %s\n\n", strings.Join(m.Versions, ", "))
		}
		fmt.Fprintf(&b, "```go\n%s\n```\n", u.Source)
		fmt.Fprint(cmd.OutOrStdout(), renderMarkdown(b.String()))
		return nil
	}),
}

var toolsAddCmd = &cobra.Command{
	Use:   "add <name> <source-file>",
	Short: "Register a new capability from a Go source file",
	Args:  cobra.ExactArgs(2),
	RunE: withRegistry(func(cmd *cobra.Command, a *app, args []string) error {
		source, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		schema, err := readSchema(toolSchemaFile)
		if err != nil {
			return err
		}
		u, err := a.registry.Add(cmd.Context(), registry.AddRequest{
			Name:          args[0],
			Source:        string(source),
			Schema:        schema,
			Tags:          toolTags,
			OriginalQuery: toolQuery,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("Added %s %s", u.Name, u.Version)))
		return nil
	}),
}

var toolsUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update the source, schema, tags or active flag of a capability",
	Args:  cobra.ExactArgs(1),
	RunE: withRegistry(func(cmd *cobra.Command, a *app, args []string) error {
		var req registry.UpdateRequest
		flags := cmd.Flags()
		if flags.Changed("source") {
			b, err := os.ReadFile(toolSourceFile)
			if err != nil {
				return err
			}
			s := string(b)
			req.Source = &s
		}
		if flags.Changed("schema") {
			schema, err := readSchema(toolSchemaFile)
			if err != nil {
				return err
			}
			req.Schema = &schema
		}
		if flags.Changed("tags") {
			req.Tags = toolTags
		}
		if flags.Changed("active") {
			req.Active = &toolActive
		}
		u, err := a.registry.Update(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("Updated %s to %s", u.Name, u.Version)))
		return nil
	}),
}

var toolsRollbackCmd = &cobra.Command{
	Use:   "rollback <name> <version>",
	Short: "Restore a previous version of a capability",
	Args:  cobra.ExactArgs(2),
	RunE: withRegistry(func(cmd *cobra.Command, a *app, args []string) error {
		u, err := a.registry.Rollback(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("Rolled back %s to %s", u.Name, u.Version)))
		return nil
	}),
}

var toolsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a capability",
	Args:  cobra.ExactArgs(1),
	RunE: withRegistry(func(cmd *cobra.Command, a *app, args []string) error {
		removed, err := a.registry.Remove(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintln(cmd.OutOrStdout(), warningStyle.Render("No capability named "+args[0]))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Removed "+args[0]))
		return nil
	}),
}

var toolsExecCmd = &cobra.Command{
	Use:   "exec <name>",
	Short: "Execute a capability with JSON parameters",
	Args:  cobra.ExactArgs(1),
	RunE: withRegistry(func(cmd *cobra.Command, a *app, args []string) error {
		params := map[string]any{}
		if toolParams != "" {
			if err := json.Unmarshal([]byte(toolParams), &params); err != nil {
				return fmt.Errorf("invalid --params: %w", err)
			}
		}
		v, err := a.registry.Execute(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), v)
	}),
}

var toolsTestCmd = &cobra.Command{
	Use:   "test <name>",
	Short: "Run the stored test harness of a capability",
	Args:  cobra.ExactArgs(1),
	RunE: withRegistry(func(cmd *cobra.Command, a *app, args []string) error {
		res, err := a.registry.RunTests(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if res.Success {
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("PASS "+args[0]))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), errorStyle.Render("FAIL "+args[0]))
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		return fmt.Errorf("tests failed for %s", args[0])
	}),
}

var toolsImproveCmd = &cobra.Command{
	Use:   "improve",
	Short: "Test every capability and improve the failing ones",
	Args:  cobra.NoArgs,
	RunE: withModelRegistry(func(cmd *cobra.Command, a *app, args []string) error {
		report, err := a.registry.ImproveAll(cmd.Context())
		if err != nil {
			return err
		}
		printReport(cmd, report)
		return nil
	}),
}

func init() {
	toolsAddCmd.Flags().StringVar(&toolSchemaFile, "schema", "", "JSON schema file")
	toolsAddCmd.Flags().StringSliceVar(&toolTags, "tags", nil, "Comma-separated tags")
	toolsAddCmd.Flags().StringVar(&toolQuery, "query", "", "Request that motivated the capability")

	toolsUpdateCmd.Flags().StringVar(&toolSourceFile, "source", "", "New Go source file")
	toolsUpdateCmd.Flags().StringVar(&toolSchemaFile, "schema", "", "New JSON schema file")
	toolsUpdateCmd.Flags().StringSliceVar(&toolTags, "tags", nil, "Replacement tags")
	toolsUpdateCmd.Flags().BoolVar(&toolActive, "active", true, "Activate or deactivate")

	toolsExecCmd.Flags().StringVarP(&toolParams, "params", "p", "", "Parameters as a JSON object")

	toolsCmd.AddCommand(toolsListCmd, toolsShowCmd, toolsAddCmd, toolsUpdateCmd,
		toolsRollbackCmd, toolsRemoveCmd, toolsExecCmd, toolsTestCmd, toolsImproveCmd)
}

type registryFunc func(cmd *cobra.Command, a *app, args []string) error

func withRegistry(fn registryFunc) func(*cobra.Command, []string) error {
	return openWith(appOptions{}, fn)
}

// withModelRegistry is for commands that generate harnesses or improvements.
func withModelRegistry(fn registryFunc) func(*cobra.Command, []string) error {
	return openWith(appOptions{model: true}, fn)
}

func openWith(opts appOptions, fn registryFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		a, err := openApp(ctx, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		cmd.SetContext(ctx)
		return fn(cmd, a, args)
	}
}

func readSchema(path string) (capability.Schema, error) {
	var s capability.Schema
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("invalid schema %s: %w", path, err)
	}
	return s, nil
}

func printReport(cmd *cobra.Command, r *registry.MaintenanceReport) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s tested=%d passed=%d failed=%d improved=%d\n",
		titleStyle.Render("Maintenance"), len(r.Tested), len(r.Passed), len(r.Failed), len(r.Improved))
	for _, name := range r.Improved {
		fmt.Fprintln(w, successStyle.Render("  improved "+name))
	}
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(w, errorStyle.Render("  "+name+": "+r.Errors[name]))
	}
}
