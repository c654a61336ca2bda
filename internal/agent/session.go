// internal/agent/session.go
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/canary-cli/internal/browser"
)

// Phase is the stage of a run.
type Phase int

const (
	PhaseAuthenticating Phase = iota
	PhaseConversing
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseAuthenticating:
		return "AUTHENTICATING"
	case PhaseConversing:
		return "CONVERSING"
	case PhaseCompleted:
		return "COMPLETED"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Health is the verdict about the target application.
type Health string

const (
	HealthUnset Health = ""
	HealthOK    Health = "OK"
	HealthError Health = "ERROR"
)

// Session is the mutable record of one run. The loop owns phase and turn count,
// the report_completion handler owns health. Nothing else writes to them.
type Session struct {
	RunID string

	mu                sync.Mutex
	phase             Phase
	history           []Message
	browser           browser.Driver
	browserClosed     bool
	turnCount         int
	phaseStartTurn    int
	health            Health
	healthDescription string

	requiredRounds  int
	roundsCompleted int
	// pendingType is set by a successful type_text and consumed by the next click.
	pendingType bool
}

// NewSession creates a session in the authentication phase that owns drv.
func NewSession(runID string, drv browser.Driver) (*Session, error) {
	if drv == nil {
		return nil, fmt.Errorf("session %s requires a browser driver", runID)
	}
	return &Session{RunID: runID, browser: drv, phase: PhaseAuthenticating}, nil
}

// Browser returns the driver owned by the session.
func (s *Session) Browser() browser.Driver { return s.browser }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// Health returns the verdict and its description.
func (s *Session) Health() (Health, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health, s.healthDescription
}

// History returns a copy of the message history.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Rounds returns the required and completed conversation rounds.
func (s *Session) Rounds() (required, completed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requiredRounds, s.roundsCompleted
}

// advancePhase moves the session forward. Reaching PhaseCompleted releases the browser.
func (s *Session) advancePhase(ctx context.Context, next Phase) error {
	s.mu.Lock()
	if next < s.phase {
		cur := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, cur, next)
	}
	if next != s.phase {
		s.phaseStartTurn = s.turnCount
	}
	s.phase = next
	if next == PhaseConversing {
		// History is append-only within a phase; a new phase starts fresh.
		s.history = nil
	}
	s.mu.Unlock()

	if next == PhaseCompleted {
		return s.closeBrowser(ctx)
	}
	return nil
}

func (s *Session) incrementTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnCount++
	return s.turnCount
}

// PhaseTurns returns the turns consumed since the current phase began.
func (s *Session) PhaseTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount - s.phaseStartTurn
}

func (s *Session) appendMessage(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
}

// replaceHistory is used only by the compactor.
func (s *Session) replaceHistory(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = msgs
}

// reportHealth sets the verdict once.
func (s *Session) reportHealth(h Health, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.health != HealthUnset {
		return fmt.Errorf("%w: already %s", ErrDuplicateHealthReport, s.health)
	}
	s.health = h
	s.healthDescription = description
	return nil
}

// MarkFatal forces an ERROR verdict after a run-fatal failure. It overrides
// any earlier verdict since the run did not finish.
func (s *Session) MarkFatal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = HealthError
	s.healthDescription = fmt.Sprintf("fatal: %v", err)
}

func (s *Session) setRequiredRounds(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requiredRounds = n
	s.roundsCompleted = 0
	s.pendingType = false
}

// noteTyped and noteClicked track rounds: a click that follows a typed message completes one.
func (s *Session) noteTyped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingType = true
}

func (s *Session) noteClicked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingType {
		s.roundsCompleted++
		s.pendingType = false
	}
}

func (s *Session) closeBrowser(ctx context.Context) error {
	s.mu.Lock()
	if s.browserClosed {
		s.mu.Unlock()
		return nil
	}
	s.browserClosed = true
	s.mu.Unlock()
	return s.browser.Close(ctx)
}

// Close completes the session and releases the browser. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.phase = PhaseCompleted
	s.mu.Unlock()
	return s.closeBrowser(ctx)
}
