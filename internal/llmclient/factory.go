// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/agent"
	"github.com/xkilldash9x/canary-cli/internal/config"
)

// NewDecisionMaker creates the configured backend, wrapped in request pacing.
func NewDecisionMaker(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (agent.DecisionMaker, error) {
	var (
		backend agent.DecisionMaker
		err     error
	)

	switch strings.ToLower(cfg.Provider) {
	case config.ProviderOpenAI, "":
		backend, err = NewOpenAIClient(cfg, logger)
	case config.ProviderGemini:
		backend, err = NewGeminiClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]", cfg.Provider, config.ProviderOpenAI, config.ProviderGemini)
	}
	if err != nil {
		return nil, err
	}

	return NewPacedDecisionMaker(backend, cfg.MinRequestInterval, logger)
}
