package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/canary-cli/internal/agent"
	"github.com/xkilldash9x/canary-cli/internal/config"
)

// MockDecisionMaker is a mock implementation of agent.DecisionMaker.
type MockDecisionMaker struct {
	mock.Mock
}

func (m *MockDecisionMaker) Decide(ctx context.Context, req agent.DecisionRequest) (*agent.Decision, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agent.Decision), args.Error(1)
}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// getValidLLMConfig returns a valid LLMConfig for testing purposes.
func getValidLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:    config.ProviderOpenAI,
		APIKey:      "test-api-key",
		Model:       "test-model",
		APITimeout:  5 * time.Second,
		Temperature: 0,
	}
}

// fastBackOff retries quickly so tests stay fast.
func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
}

// testRequest is a short authentication-phase history.
func testRequest() agent.DecisionRequest {
	return agent.DecisionRequest{
		Phase: agent.PhaseAuthenticating,
		History: []agent.Message{
			{Role: agent.RoleSystem, Content: "System prompt instructions."},
			{Role: agent.RoleUser, Content: "Instructions: log in", Pinned: true},
			{Role: agent.RoleAssistant, ToolCalls: []agent.ToolCall{{
				ID: "call_1", Name: "type_text",
				Arguments: map[string]any{"selector": "#email", "by": "css", "text": "<EMAIL>"},
			}}},
			{Role: agent.RoleTool, Content: "OK", ToolCallID: "call_1", ToolName: "type_text"},
		},
		Tools: agent.AuthenticationTools().Specs(),
	}
}
