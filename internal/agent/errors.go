// internal/agent/errors.go
package agent

import "errors"

// ErrorCode is a string type used for structured error reporting in observations.
// Using a custom type ensures that only predefined constants can be used where an
// ErrorCode is expected.
type ErrorCode string

const (
	// -- General Execution Errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownTool       ErrorCode = "UNKNOWN_TOOL"

	// -- Browser/DOM Errors --
	ErrCodeElementNotFound     ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeoutError        ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigationError     ErrorCode = "NAVIGATION_ERROR"
	ErrCodeUnsupportedSelector ErrorCode = "UNSUPPORTED_SELECTOR"

	// -- Verdict Errors --
	// ErrCodeHealthRejected is returned when a health report arrives before the
	// conversation has done enough rounds, or after health was already set.
	ErrCodeHealthRejected ErrorCode = "HEALTH_REJECTED"

	// -- Internal System Errors --
	ErrCodeHandlerPanic ErrorCode = "HANDLER_PANIC"
)

var (
	// ErrUnknownTool is returned for a tool name outside the active phase's set.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrTurnLimitExceeded ends a phase that ran out of turns before terminating.
	ErrTurnLimitExceeded = errors.New("turn limit exceeded")
	// ErrDuplicateHealthReport is returned on a second write to session health.
	ErrDuplicateHealthReport = errors.New("health already reported")
	// ErrUnknownProfile is returned when the requested login profile is not configured.
	ErrUnknownProfile = errors.New("unknown login profile")
	// ErrPhaseRegression is returned when a phase transition would move backwards.
	ErrPhaseRegression = errors.New("phase transitions are monotonic")
	// ErrContextBudgetExceeded means protected history alone is over the token budget.
	ErrContextBudgetExceeded = errors.New("protected history exceeds context budget")
)
