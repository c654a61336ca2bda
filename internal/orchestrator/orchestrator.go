// File: internal/orchestrator/orchestrator.go
// Description: Manages the lifecycle of one monitoring run. It is injected with
// the decision-maker, the login profiles and the run instructions, and owns the
// browser session from launch to release.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/agent"
	"github.com/xkilldash9x/canary-cli/internal/browser"
	"github.com/xkilldash9x/canary-cli/internal/config"
	"github.com/xkilldash9x/canary-cli/internal/reporting"
	"github.com/xkilldash9x/canary-cli/internal/store"
)

// Mode selects which phases a run executes.
type Mode string

const (
	ModeAll  Mode = "all"
	ModeAuth Mode = "auth"
)

// Run types recorded in the execution trace.
const (
	runTypeLogin = "run_login"
	runTypeChats = "run_chats"
)

const closeTimeout = 15 * time.Second

// DriverOpener launches a browser driver.
type DriverOpener func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Driver, error)

// RunOptions are the per-invocation overrides.
type RunOptions struct {
	Mode    Mode
	Profile string
}

// Outcome is what a finished run produced.
type Outcome struct {
	RunID   string
	Verdict reporting.Verdict
	Result  reporting.Result
}

// Healthy is true only for a completed run that reported OK.
func (o Outcome) Healthy() bool {
	return o.Verdict.Err == nil && o.Verdict.Health == agent.HealthOK
}

// Runner executes monitoring runs.
type Runner struct {
	cfg          *config.Config
	logger       *zap.Logger
	decider      agent.DecisionMaker
	profiles     agent.CredentialSource
	instructions store.RunInstructions
	compactor    *agent.Compactor

	openDriver   DriverOpener
	newRunID     func() string
	loopOpts     []agent.LoopOption
	reporterOpts []reporting.Option
}

// Option customizes a Runner.
type Option func(*Runner)

// WithDriverOpener replaces browser.Open.
func WithDriverOpener(fn DriverOpener) Option { return func(r *Runner) { r.openDriver = fn } }

// WithRunIDGenerator replaces the uuid run id source.
func WithRunIDGenerator(fn func() string) Option { return func(r *Runner) { r.newRunID = fn } }

// WithLoopOptions appends options to every decision loop.
func WithLoopOptions(opts ...agent.LoopOption) Option {
	return func(r *Runner) { r.loopOpts = append(r.loopOpts, opts...) }
}

// WithReporterOptions appends options to every run reporter.
func WithReporterOptions(opts ...reporting.Option) Option {
	return func(r *Runner) { r.reporterOpts = append(r.reporterOpts, opts...) }
}

// New creates a Runner.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	decider agent.DecisionMaker,
	profiles agent.CredentialSource,
	instructions store.RunInstructions,
	opts ...Option,
) (*Runner, error) {
	if cfg == nil ||
		logger == nil ||
		decider == nil ||
		profiles == nil {
		return nil, fmt.Errorf("cannot initialize runner with nil dependencies")
	}
	r := &Runner{
		cfg:          cfg,
		logger:       logger.Named("orchestrator"),
		decider:      decider,
		profiles:     profiles,
		instructions: instructions,
		openDriver:   browser.Open,
		newRunID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	counter := agent.NewTokenCounter(cfg.Compaction.Tokenizer, cfg.Compaction.Encoding, r.logger)
	r.compactor = agent.NewCompactor(cfg.Compaction, counter)
	return r, nil
}

// Run executes one run and finalizes its artifacts. An unhealthy verdict is
// reported through the Outcome; the error is reserved for runs whose artifacts
// could not be written.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (Outcome, error) {
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}
	if opts.Profile == "" {
		opts.Profile = r.cfg.Target.LoginProfile
	}
	runID := r.newRunID()
	logger := r.logger.With(zap.String("run_id", runID), zap.String("mode", string(opts.Mode)))
	logger.Info("Run starting.", zap.String("base_url", r.cfg.Target.BaseURL), zap.String("profile", opts.Profile))

	// A missing profile is fatal, but the run is still reported.
	shim, shimErr := agent.NewCredentialShim(r.profiles, opts.Profile)
	if shimErr != nil {
		shim = agent.NoCredentials()
	}

	runType := runTypeChats
	if opts.Mode == ModeAuth {
		runType = runTypeLogin
	}
	reporterOpts := append([]reporting.Option{reporting.WithScrubber(shim)}, r.reporterOpts...)
	rep, err := reporting.NewReporter(r.cfg.Artifacts, runID, runType, logger, reporterOpts...)
	if err != nil {
		return Outcome{RunID: runID}, fmt.Errorf("failed to prepare run artifacts: %w", err)
	}

	var verdict reporting.Verdict
	if shimErr != nil {
		logger.Error("Login profile unavailable.", zap.Error(shimErr))
		verdict = reporting.Verdict{Err: shimErr}
	} else {
		verdict = r.execute(ctx, runID, rep, shim, opts.Mode, logger)
	}

	res, err := rep.Finalize(verdict)
	out := Outcome{RunID: runID, Verdict: verdict, Result: res}
	if err != nil {
		return out, fmt.Errorf("failed to finalize run: %w", err)
	}
	logger.Info("Run finished.",
		zap.String("health", string(verdict.Health)),
		zap.String("status", verdict.Status()),
		zap.String("trace", res.TracePath),
	)
	return out, nil
}

// execute owns the browser session. The session is closed before the verdict
// is handed back for finalization.
func (r *Runner) execute(ctx context.Context, runID string, rep *reporting.Reporter, shim *agent.CredentialShim, mode Mode, logger *zap.Logger) reporting.Verdict {
	drv, err := r.openDriver(ctx, r.cfg.Browser, logger)
	if err != nil {
		logger.Error("Failed to start the browser.", zap.Error(err))
		return reporting.Verdict{Err: err}
	}
	s, err := agent.NewSession(runID, drv)
	if err != nil {
		_ = drv.Close(context.WithoutCancel(ctx))
		return reporting.Verdict{Err: err}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := s.Close(closeCtx); err != nil {
			logger.Warn("Failed to close the browser cleanly.", zap.Error(err))
		}
	}()

	baseURL := r.cfg.Target.BaseURL
	if err := drv.Navigate(ctx, baseURL); err != nil {
		s.MarkFatal(err)
		return verdictFrom(s, err)
	}
	if _, err := rep.Capture(ctx, drv, "initial"); err != nil {
		logger.Warn("Initial capture failed.", zap.Error(err))
	}
	initial := r.initialMarkup(ctx, drv, logger)

	loopOpts := append([]agent.LoopOption{
		agent.WithObserver(rep),
		agent.WithCapturer(rep),
		agent.WithMaxSleep(r.cfg.Agent.MaxSleep),
	}, r.loopOpts...)
	loop := agent.NewLoop(r.decider, r.compactor, shim, logger, loopOpts...)

	auth := agent.PhasePlan{
		Phase:         agent.PhaseAuthenticating,
		Instructions:  r.instructions.Login.SystemPrompt,
		Prompt:        store.LoginTaskPrompt,
		Goal:          r.instructions.Login.Instructions,
		BaseURL:       baseURL,
		InitialMarkup: initial,
		Tools:         agent.AuthenticationTools(),
		TurnLimit:     r.cfg.Agent.AuthTurnLimit,
		MaxTokens:     r.cfg.Compaction.AuthMaxTokens,
	}
	if err := loop.Run(ctx, s, auth); err != nil {
		return verdictFrom(s, err)
	}
	logger.Info("Authenticated.", zap.Int("turns", s.TurnCount()))

	if mode == ModeAuth {
		return reporting.Verdict{Health: agent.HealthOK, Description: "Login successful."}
	}

	chat := agent.PhasePlan{
		Phase:        agent.PhaseConversing,
		Instructions: r.instructions.Chats.SystemPrompt,
		Prompt:       store.ChatTaskPrompt,
		Goal:         r.instructions.Chats.Instructions,
		BaseURL:      baseURL,
		Tools:        agent.ConversationTools(),
		TurnLimit:    r.cfg.Agent.ConversationTurnLimit,
		MaxTokens:    r.cfg.Compaction.ConversationMaxTokens,
		RoundsMin:    r.cfg.Agent.MinRounds,
		RoundsMax:    r.cfg.Agent.MaxRounds,
	}
	if err := loop.Run(ctx, s, chat); err != nil {
		return verdictFrom(s, err)
	}
	return verdictFrom(s, nil)
}

// initialMarkup returns the cleaned landing page, or nothing when the page
// cannot be read; the agent can still fetch it with a tool.
func (r *Runner) initialMarkup(ctx context.Context, drv browser.Driver, logger *zap.Logger) string {
	raw, err := drv.HTML(ctx)
	if err != nil {
		logger.Warn("Could not read the landing page.", zap.Error(err))
		return ""
	}
	cleaned, err := agent.CleanMarkup(raw)
	if err != nil {
		logger.Warn("Could not clean the landing page markup.", zap.Error(err))
		return ""
	}
	return cleaned
}

func verdictFrom(s *agent.Session, err error) reporting.Verdict {
	health, description := s.Health()
	return reporting.Verdict{Health: health, Description: description, Err: err}
}
