// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/config"
	"github.com/xkilldash9x/canary-cli/internal/llmclient"
	"github.com/xkilldash9x/canary-cli/internal/observability"
	"github.com/xkilldash9x/canary-cli/internal/orchestrator"
	"github.com/xkilldash9x/canary-cli/internal/store"
)

// ErrUnhealthyRun makes the process exit non-zero when the verdict is not OK.
var ErrUnhealthyRun = errors.New("run verdict is not OK")

// runner is the part of orchestrator.Runner the command uses.
type runner interface {
	Run(ctx context.Context, opts orchestrator.RunOptions) (orchestrator.Outcome, error)
}

// runnerFactory wires a runner from the final configuration.
type runnerFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (runner, error)

// defaultRunnerFactory loads the login profiles and run instructions from disk
// and connects the configured decision-maker.
func defaultRunnerFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (runner, error) {
	profiles, err := store.LoadProfiles(cfg.Target.ProfilesFile, logger)
	if err != nil {
		return nil, err
	}
	instructions, err := store.LoadInstructions(cfg.Target.InstructionsFile, logger)
	if err != nil {
		return nil, err
	}
	decider, err := llmclient.NewDecisionMaker(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize decision-maker: %w", err)
	}
	return orchestrator.New(cfg, logger, decider, profiles, instructions)
}

// newRunCmd creates and configures the `run` command.
func newRunCmd(factory runnerFactory) *cobra.Command {
	var phase string
	var profile string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one login and conversation check against the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			mode, err := parseMode(phase)
			if err != nil {
				return err
			}
			if err := applyRunFlagOverrides(cmd, cfg); err != nil {
				return err
			}

			r, err := factory(ctx, cfg, logger)
			if err != nil {
				return err
			}

			out, err := r.Run(ctx, orchestrator.RunOptions{Mode: mode, Profile: profile})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Run ID: %s\n", out.RunID)
			fmt.Fprintf(cmd.OutOrStdout(), "Status: %s (health %s)\n", out.Verdict.Status(), healthLabel(out))
			if out.Verdict.Description != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Description: %s\n", out.Verdict.Description)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trace: %s\n", out.Result.TracePath)
			if out.Result.QueueEntry != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Queued for monitoring: %s\n", out.Result.QueueEntry)
			}

			if !out.Healthy() {
				return fmt.Errorf("%w: run %s finished with status %s", ErrUnhealthyRun, out.RunID, out.Verdict.Status())
			}
			return nil
		},
	}

	runCmd.Flags().StringVar(&phase, "phase", string(orchestrator.ModeAll), "Phases to run: 'all' or 'auth'.")
	runCmd.Flags().StringVar(&profile, "profile", "", "Login profile name. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser without a window. (Overrides config/env)")
	runCmd.Flags().String("driver", "", "Browser driver: 'chromedp' or 'playwright'. (Overrides config/env)")

	return runCmd
}

func parseMode(phase string) (orchestrator.Mode, error) {
	switch orchestrator.Mode(strings.ToLower(strings.TrimSpace(phase))) {
	case orchestrator.ModeAll, "":
		return orchestrator.ModeAll, nil
	case orchestrator.ModeAuth:
		return orchestrator.ModeAuth, nil
	}
	return "", fmt.Errorf("invalid --phase %q: must be 'all' or 'auth'", phase)
}

// applyRunFlagOverrides copies explicitly set flags over the loaded configuration.
func applyRunFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("headless") {
		headless, err := flags.GetBool("headless")
		if err != nil {
			return err
		}
		cfg.Browser.Headless = headless
	}
	if flags.Changed("driver") {
		driver, err := flags.GetString("driver")
		if err != nil {
			return err
		}
		switch driver {
		case config.DriverChromedp, config.DriverPlaywright:
			cfg.Browser.Driver = driver
		default:
			return fmt.Errorf("invalid --driver %q: must be %q or %q", driver, config.DriverChromedp, config.DriverPlaywright)
		}
	}
	return nil
}

func healthLabel(out orchestrator.Outcome) string {
	if out.Verdict.Health == "" {
		return "ERROR"
	}
	return string(out.Verdict.Health)
}
