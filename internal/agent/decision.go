// internal/agent/decision.go
package agent

import "context"

// DecisionRequest is what the decision-maker sees for one turn. History
// starts with the phase's system instructions.
type DecisionRequest struct {
	Phase   Phase
	History []Message
	Tools   []ToolSpec
}

// Decision is the decision-maker's answer: either one tool call or a signal
// to proceed to the termination check. Text carries any free-form reply.
type Decision struct {
	Call    *ToolCall
	Proceed bool
	Text    string
}

// Actionable reports whether the decision can drive the loop forward.
func (d *Decision) Actionable() bool {
	return d != nil && (d.Call != nil || d.Proceed)
}

// DecisionMaker picks the next action. Implementations wrap a model backend.
type DecisionMaker interface {
	Decide(ctx context.Context, req DecisionRequest) (*Decision, error)
}
