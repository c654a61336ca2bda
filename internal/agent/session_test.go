package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	_, err := NewSession("r1", nil)
	require.Error(t, err)

	drv := newFakeDriver("https://app.example")
	s, err := NewSession("r1", drv)
	require.NoError(t, err)
	assert.Equal(t, PhaseAuthenticating, s.Phase())
	assert.Same(t, drv, s.Browser())
	health, _ := s.Health()
	assert.Equal(t, HealthUnset, health)
}

func TestSessionPhaseTransitions(t *testing.T) {
	ctx := context.Background()
	drv := newFakeDriver("https://app.example")
	s, err := NewSession("r1", drv)
	require.NoError(t, err)

	s.appendMessage(Message{Role: RoleSystem, Content: "auth"})
	s.incrementTurn()
	s.incrementTurn()

	require.NoError(t, s.advancePhase(ctx, PhaseConversing))
	assert.Equal(t, PhaseConversing, s.Phase())
	assert.Empty(t, s.History(), "a new phase starts with a fresh history")
	assert.Equal(t, 2, s.TurnCount(), "turn count is monotonic across phases")
	assert.Equal(t, 0, s.PhaseTurns())

	err = s.advancePhase(ctx, PhaseAuthenticating)
	assert.ErrorIs(t, err, ErrPhaseRegression)
	assert.Equal(t, PhaseConversing, s.Phase())
	assert.Equal(t, 0, drv.closeCount, "browser stays open until completion")

	require.NoError(t, s.advancePhase(ctx, PhaseCompleted))
	assert.Equal(t, 1, drv.closeCount)

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 1, drv.closeCount, "browser is released exactly once")
}

func TestSessionHealthIsWriteOnce(t *testing.T) {
	s, err := NewSession("r1", newFakeDriver("https://app.example"))
	require.NoError(t, err)

	require.NoError(t, s.reportHealth(HealthError, "model backend timeout"))
	err = s.reportHealth(HealthOK, "all good")
	assert.ErrorIs(t, err, ErrDuplicateHealthReport)

	health, desc := s.Health()
	assert.Equal(t, HealthError, health)
	assert.Equal(t, "model backend timeout", desc)
}

func TestSessionMarkFatal(t *testing.T) {
	s, err := NewSession("r1", newFakeDriver("https://app.example"))
	require.NoError(t, err)
	require.NoError(t, s.reportHealth(HealthOK, "fine"))

	s.MarkFatal(errors.New("browser crashed"))
	health, desc := s.Health()
	assert.Equal(t, HealthError, health)
	assert.Contains(t, desc, "browser crashed")
}

func TestSessionRounds(t *testing.T) {
	s, err := NewSession("r1", newFakeDriver("https://app.example"))
	require.NoError(t, err)
	s.setRequiredRounds(2)

	s.noteClicked()
	_, completed := s.Rounds()
	assert.Equal(t, 0, completed, "a click without typing is not a round")

	s.noteTyped()
	s.noteClicked()
	s.noteClicked()
	required, completed := s.Rounds()
	assert.Equal(t, 2, required)
	assert.Equal(t, 1, completed)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "AUTHENTICATING", PhaseAuthenticating.String())
	assert.Equal(t, "CONVERSING", PhaseConversing.String())
	assert.Equal(t, "COMPLETED", PhaseCompleted.String())
	assert.Equal(t, "Phase(7)", Phase(7).String())
}
