package llmclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/canary-cli/internal/agent"
)

// PacedDecisionMaker wraps a DecisionMaker and enforces a minimum interval
// between consecutive model requests.
type PacedDecisionMaker struct {
	logger  *zap.Logger
	next    agent.DecisionMaker
	limiter *rate.Limiter
}

// NewPacedDecisionMaker creates the wrapper. A non-positive interval disables pacing.
func NewPacedDecisionMaker(next agent.DecisionMaker, interval time.Duration, logger *zap.Logger) (*PacedDecisionMaker, error) {
	if next == nil {
		return nil, fmt.Errorf("a decision-maker to pace must be provided")
	}

	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &PacedDecisionMaker{
		logger:  logger.Named("llm_pacer"),
		next:    next,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Decide waits for the next request slot, then delegates.
func (p *PacedDecisionMaker) Decide(ctx context.Context, req agent.DecisionRequest) (*agent.Decision, error) {
	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for a request slot: %w", err)
	}
	if waited := time.Since(start); waited > 10*time.Millisecond {
		p.logger.Debug("Paced model request", zap.Duration("waited", waited))
	}
	return p.next.Decide(ctx, req)
}
