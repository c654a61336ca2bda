// File: cmd/trace.go
package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/agent"
	"github.com/xkilldash9x/canary-cli/internal/observability"
	"github.com/xkilldash9x/canary-cli/internal/reporting"
)

// newTraceCmd creates and configures the `trace` command.
func newTraceCmd() *cobra.Command {
	var follow bool

	traceCmd := &cobra.Command{
		Use:   "trace RUN_DIR",
		Short: "Prints the step trace of a run, optionally following it while the run is live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			path, err := reporting.TracePath(args[0])
			if err != nil {
				return fmt.Errorf("cannot open trace: %w", err)
			}

			out := cmd.OutOrStdout()
			onStep := func(s agent.Step) { fmt.Fprintln(out, formatStep(s)) }
			onBad := func(line string, err error) {
				logger.Debug("Skipping undecodable trace line.", zap.Error(err), zap.Int("length", len(line)))
			}

			if follow {
				return reporting.FollowSteps(cmd.Context(), path, logger, onStep, onBad)
			}
			return reporting.ReadSteps(path, onStep, onBad)
		},
	}

	traceCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing steps as they are appended.")
	return traceCmd
}

// formatStep renders one step as a single line.
func formatStep(s agent.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%03d %-14s %-7s", s.Turn, s.Phase, s.Kind)
	if s.Call != nil {
		fmt.Fprintf(&b, " %s", s.Call.Name)
		if args := formatArgs(s.Call.Arguments); args != "" {
			fmt.Fprintf(&b, "(%s)", args)
		}
	}
	if s.Observation != nil {
		fmt.Fprintf(&b, " -> %s", s.Observation.Status)
		if s.Observation.ErrorCode != "" {
			fmt.Fprintf(&b, " [%s]", s.Observation.ErrorCode)
		}
	}
	if s.Text != "" {
		fmt.Fprintf(&b, " %q", truncate(s.Text, 80))
	}
	return b.String()
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, truncate(fmt.Sprint(args[k]), 40)))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
