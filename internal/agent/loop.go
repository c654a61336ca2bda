// internal/agent/loop.go
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/browser"
)

// PromptData is available to instruction and prompt templates.
type PromptData struct {
	Goal         string
	BaseURL      string
	Rounds       int
	Placeholders []string
}

// PhasePlan configures one run of the loop.
type PhasePlan struct {
	Phase Phase
	// Instructions is the system prompt template.
	Instructions string
	// Prompt is the pinned task message template.
	Prompt        string
	Goal          string
	BaseURL       string
	InitialMarkup string
	Tools         *ToolSet
	TurnLimit     int
	MaxTokens     int
	// RoundsMin and RoundsMax bound the rounds drawn for the conversation phase.
	RoundsMin int
	RoundsMax int
}

// StepKind tells what a turn did.
type StepKind string

const (
	StepTool    StepKind = "tool"
	StepProceed StepKind = "proceed"
	StepWasted  StepKind = "wasted"
)

// Step is the record of one consumed turn.
type Step struct {
	Turn        int          `json:"turn"`
	Phase       string       `json:"phase"`
	Kind        StepKind     `json:"kind"`
	Call        *ToolCall    `json:"call,omitempty"`
	Observation *Observation `json:"observation,omitempty"`
	Text        string       `json:"text,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// StepObserver is notified after every turn and when a phase terminates.
type StepObserver interface {
	RecordStep(ctx context.Context, s *Session, step Step)
	PhaseTerminal(ctx context.Context, s *Session, phase Phase)
}

type nopObserver struct{}

func (nopObserver) RecordStep(context.Context, *Session, Step)     {}
func (nopObserver) PhaseTerminal(context.Context, *Session, Phase) {}

// Loop alternates between asking the decision-maker and dispatching its choice.
type Loop struct {
	decider   DecisionMaker
	compactor *Compactor
	shim      *CredentialShim
	observer  StepObserver
	capturer  Capturer
	sleep     func(ctx context.Context, d time.Duration) error
	maxSleep  time.Duration
	rng       *rand.Rand
	logger    *zap.Logger
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

func WithObserver(o StepObserver) LoopOption { return func(l *Loop) { l.observer = o } }
func WithCapturer(c Capturer) LoopOption     { return func(l *Loop) { l.capturer = c } }
func WithMaxSleep(d time.Duration) LoopOption {
	return func(l *Loop) { l.maxSleep = d }
}

// WithSleep replaces the wait used by the sleep tool.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) LoopOption {
	return func(l *Loop) { l.sleep = fn }
}

// WithRand fixes the source used to draw conversation rounds.
func WithRand(r *rand.Rand) LoopOption { return func(l *Loop) { l.rng = r } }

// NewLoop creates a loop. shim may be nil when no credentials are needed.
func NewLoop(decider DecisionMaker, compactor *Compactor, shim *CredentialShim, logger *zap.Logger, opts ...LoopOption) *Loop {
	l := &Loop{
		decider:   decider,
		compactor: compactor,
		shim:      shim,
		observer:  nopObserver{},
		sleep:     sleepContext,
		maxSleep:  30 * time.Second,
		logger:    logger.Named("loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.shim == nil {
		l.shim = NoCredentials()
	}
	return l
}

// Run drives the session through plan.Phase until the termination predicate
// holds. On success the session has advanced to the next phase. Run-fatal
// failures force an ERROR verdict before returning.
func (l *Loop) Run(ctx context.Context, s *Session, plan PhasePlan) error {
	if s.Phase() != plan.Phase {
		return fmt.Errorf("loop for phase %s started on a session in phase %s", plan.Phase, s.Phase())
	}
	logger := l.logger.With(zap.String("run_id", s.RunID), zap.Stringer("phase", plan.Phase))

	data := PromptData{Goal: plan.Goal, BaseURL: plan.BaseURL, Placeholders: l.shim.Placeholders()}
	if plan.Phase == PhaseConversing {
		data.Rounds = l.drawRounds(plan.RoundsMin, plan.RoundsMax)
		s.setRequiredRounds(data.Rounds)
		logger.Info("Conversation rounds chosen.", zap.Int("rounds", data.Rounds))
	}
	if err := l.seedHistory(s, plan, data); err != nil {
		return err
	}

	dispatcher := NewDispatcher(plan.Tools, l.shim, &ToolEnv{
		Session:  s,
		Capturer: l.capturer,
		Logger:   logger.Named("tools"),
		Sleep:    l.sleep,
		MaxSleep: l.maxSleep,
	}, logger)

	for {
		if turns := s.PhaseTurns(); turns >= plan.TurnLimit {
			err := fmt.Errorf("%w: %d turns used in phase %s", ErrTurnLimitExceeded, turns, plan.Phase)
			return l.fatal(s, logger, err)
		}

		decision, err := l.requestDecision(ctx, s, plan, logger)
		if err != nil {
			return l.fatal(s, logger, err)
		}

		if err := l.dispatch(ctx, s, plan, dispatcher, decision); err != nil {
			return l.fatal(s, logger, err)
		}

		done, err := l.checkTermination(ctx, s, plan.Phase)
		if err != nil {
			return l.fatal(s, logger, err)
		}
		if done {
			logger.Info("Phase terminated.", zap.Int("turns", s.PhaseTurns()))
			l.observer.PhaseTerminal(ctx, s, plan.Phase)
			return s.advancePhase(ctx, plan.Phase+1)
		}
	}
}

func (l *Loop) fatal(s *Session, logger *zap.Logger, err error) error {
	err = l.shim.ScrubError(err)
	logger.Error("Phase failed.", zap.Error(err))
	s.MarkFatal(err)
	return err
}

func (l *Loop) drawRounds(minRounds, maxRounds int) int {
	if minRounds < 1 {
		minRounds = 1
	}
	if maxRounds < minRounds {
		maxRounds = minRounds
	}
	span := maxRounds - minRounds + 1
	if l.rng != nil {
		return minRounds + l.rng.IntN(span)
	}
	return minRounds + rand.IntN(span)
}

// seedHistory appends the system instructions, the pinned task prompt and the
// initial page snapshot.
func (l *Loop) seedHistory(s *Session, plan PhasePlan, data PromptData) error {
	instructions, err := RenderTemplate("instructions", plan.Instructions, data)
	if err != nil {
		return err
	}
	prompt, err := RenderTemplate("prompt", plan.Prompt, data)
	if err != nil {
		return err
	}
	msgs := []Message{
		{Role: RoleSystem, Content: instructions},
		{Role: RoleUser, Content: prompt, Pinned: true},
	}
	if plan.InitialMarkup != "" {
		msgs = append(msgs, Message{
			Role:     RoleUser,
			Content:  "Initial HTML (cleaned):\n" + l.shim.Scrub(plan.InitialMarkup),
			Snapshot: true,
		})
	}
	s.appendMessage(msgs...)
	return nil
}

// RenderTemplate executes a text/template against data.
func RenderTemplate(name, text string, data PromptData) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// requestDecision compacts the history and asks for the next action. A
// response that is empty or fails is requested once more. A nil decision with
// a nil error means the turn is wasted.
func (l *Loop) requestDecision(ctx context.Context, s *Session, plan PhasePlan, logger *zap.Logger) (*Decision, error) {
	history, err := l.compactor.Compact(s.History(), plan.MaxTokens)
	if err != nil {
		logger.Warn("History is over budget after compaction.", zap.Error(err))
	}
	s.replaceHistory(history)

	req := DecisionRequest{Phase: plan.Phase, History: history, Tools: plan.Tools.Specs()}
	for attempt := 1; attempt <= 2; attempt++ {
		decision, err := l.decider.Decide(ctx, req)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			logger.Warn("Decision request failed.", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if decision.Actionable() {
			return decision, nil
		}
		logger.Warn("Decision had no tool call and no proceed signal.", zap.Int("attempt", attempt))
	}
	return nil, nil
}

// dispatch executes the decision and consumes one turn.
func (l *Loop) dispatch(ctx context.Context, s *Session, plan PhasePlan, d *Dispatcher, decision *Decision) error {
	step := Step{Phase: plan.Phase.String(), Timestamp: time.Now().UTC()}
	var fatalErr error

	switch {
	case decision == nil:
		step.Kind = StepWasted
		s.appendMessage(Message{
			Role:    RoleUser,
			Content: "No tool call was received. Respond with exactly one call to an available tool.",
		})

	case decision.Call == nil:
		step.Kind = StepProceed
		step.Text = decision.Text
		if decision.Text != "" {
			s.appendMessage(Message{Role: RoleAssistant, Content: decision.Text})
		}

	default:
		call := *decision.Call
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", s.TurnCount()+1)
		}
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		s.appendMessage(Message{Role: RoleAssistant, Content: decision.Text, ToolCalls: []ToolCall{call}})

		obs, err := d.Dispatch(ctx, call)
		fatalErr = err
		tool, _ := plan.Tools.Lookup(call.Name)
		s.appendMessage(Message{
			Role:       RoleTool,
			Content:    observationContent(obs),
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Snapshot:   tool.Snapshot && obs.Succeeded(),
		})
		step.Kind = StepTool
		step.Call = &call
		step.Observation = &obs
	}

	step.Turn = s.incrementTurn()
	l.observer.RecordStep(ctx, s, step)
	return fatalErr
}

func observationContent(obs Observation) string {
	if obs.Succeeded() {
		return obs.Payload
	}
	return fmt.Sprintf("FAILURE [%s] %s", obs.ErrorCode, obs.Payload)
}

// checkTermination evaluates the phase's exit predicate. It runs after every
// turn regardless of what the decision-maker asked for.
func (l *Loop) checkTermination(ctx context.Context, s *Session, phase Phase) (bool, error) {
	switch phase {
	case PhaseAuthenticating:
		loggedIn, err := IsLoggedIn(ctx, s.Browser())
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if errors.Is(err, browser.ErrDriverUnavailable) {
				return false, err
			}
			l.logger.Debug("Login check failed; continuing.", zap.Error(err))
			return false, nil
		}
		return loggedIn, nil
	case PhaseConversing:
		health, _ := s.Health()
		return health != HealthUnset, nil
	}
	return true, nil
}
