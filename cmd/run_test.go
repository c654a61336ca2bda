// File: cmd/run_test.go
package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/agent"
	"github.com/xkilldash9x/canary-cli/internal/config"
	"github.com/xkilldash9x/canary-cli/internal/orchestrator"
	"github.com/xkilldash9x/canary-cli/internal/reporting"
)

// fakeRunner records what the command asked for and returns a canned outcome.
type fakeRunner struct {
	cfg     *config.Config
	opts    orchestrator.RunOptions
	outcome orchestrator.Outcome
	err     error
}

func (f *fakeRunner) Run(_ context.Context, opts orchestrator.RunOptions) (orchestrator.Outcome, error) {
	f.opts = opts
	return f.outcome, f.err
}

func (f *fakeRunner) factory() runnerFactory {
	return func(_ context.Context, cfg *config.Config, _ *zap.Logger) (runner, error) {
		f.cfg = cfg
		return f, nil
	}
}

func newTestRoot(f *fakeRunner) *cobra.Command {
	return newRootCommand(f.factory(), nil)
}

func healthyOutcome() orchestrator.Outcome {
	return orchestrator.Outcome{
		RunID:   "run-1",
		Verdict: reporting.Verdict{Health: agent.HealthOK, Description: "replies looked normal"},
		Result:  reporting.Result{TracePath: "/tmp/run-1/execution_trace.json"},
	}
}

func TestRunCmd_HealthyRun(t *testing.T) {
	isolate(t)
	f := &fakeRunner{outcome: healthyOutcome()}

	out, err := executeCommand(t, newTestRoot(f), "run")
	require.NoError(t, err)

	assert.Equal(t, orchestrator.ModeAll, f.opts.Mode)
	assert.Empty(t, f.opts.Profile)
	assert.Contains(t, out, "Run ID: run-1")
	assert.Contains(t, out, "Status: completed (health OK)")
	assert.NotContains(t, out, "Queued")
}

func TestRunCmd_FlagsOverrideConfig(t *testing.T) {
	isolate(t)
	f := &fakeRunner{outcome: healthyOutcome()}

	_, err := executeCommand(t, newTestRoot(f), "run", "--phase", "AUTH", "--profile", "staging", "--headless=false", "--driver", "playwright")
	require.NoError(t, err)

	assert.Equal(t, orchestrator.ModeAuth, f.opts.Mode)
	assert.Equal(t, "staging", f.opts.Profile)
	require.NotNil(t, f.cfg)
	assert.False(t, f.cfg.Browser.Headless)
	assert.Equal(t, config.DriverPlaywright, f.cfg.Browser.Driver)
}

func TestRunCmd_UnhealthyRunFails(t *testing.T) {
	isolate(t)
	f := &fakeRunner{outcome: orchestrator.Outcome{
		RunID:   "run-2",
		Verdict: reporting.Verdict{Health: agent.HealthError, Description: "empty reply"},
		Result:  reporting.Result{TracePath: "/tmp/t.json", QueueEntry: "/tmp/error/run-2"},
	}}

	out, err := executeCommand(t, newTestRoot(f), "run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnhealthyRun)
	assert.Contains(t, out, "Status: error (health ERROR)")
	assert.Contains(t, out, "Queued for monitoring: /tmp/error/run-2")
}

func TestRunCmd_FatalRunFails(t *testing.T) {
	isolate(t)
	f := &fakeRunner{outcome: orchestrator.Outcome{
		RunID:   "run-3",
		Verdict: reporting.Verdict{Err: agent.ErrTurnLimitExceeded},
	}}

	out, err := executeCommand(t, newTestRoot(f), "run")
	assert.ErrorIs(t, err, ErrUnhealthyRun)
	assert.Contains(t, out, "Status: fatal (health ERROR)")
}

func TestRunCmd_InvalidFlags(t *testing.T) {
	isolate(t)

	_, err := executeCommand(t, newTestRoot(&fakeRunner{}), "run", "--phase", "chat")
	assert.ErrorContains(t, err, "invalid --phase")

	_, err = executeCommand(t, newTestRoot(&fakeRunner{}), "run", "--driver", "selenium")
	assert.ErrorContains(t, err, "invalid --driver")
}

func TestRunCmd_RunnerError(t *testing.T) {
	isolate(t)
	f := &fakeRunner{err: errors.New("disk full")}
	_, err := executeCommand(t, newTestRoot(f), "run")
	assert.ErrorContains(t, err, "disk full")
	assert.NotErrorIs(t, err, ErrUnhealthyRun)
}
