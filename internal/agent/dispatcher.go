// internal/agent/dispatcher.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/browser"
)

// Dispatcher executes tool calls for one phase and turns their outcome into observations.
type Dispatcher struct {
	tools  *ToolSet
	shim   *CredentialShim
	env    *ToolEnv
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher bound to a phase's tool set.
func NewDispatcher(tools *ToolSet, shim *CredentialShim, env *ToolEnv, logger *zap.Logger) *Dispatcher {
	if shim == nil {
		shim = NoCredentials()
	}
	if env.Sleep == nil {
		env.Sleep = sleepContext
	}
	if env.Logger == nil {
		env.Logger = logger
	}
	return &Dispatcher{
		tools:  tools,
		shim:   shim,
		env:    env,
		logger: logger.Named("dispatcher"),
	}
}

// Dispatch runs one call. Tool faults come back as FAILURE observations with a
// nil error. The error is non-nil only when the run cannot continue: the
// context is done or the browser is gone.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) (Observation, error) {
	tool, ok := d.tools.Lookup(call.Name)
	if !ok {
		err := fmt.Errorf("%w: %q is not available in phase %s", ErrUnknownTool, call.Name, d.tools.Phase())
		d.logger.Warn("Decision-maker requested an unknown tool.", zap.String("tool", call.Name))
		return failure(ErrCodeUnknownTool,
			fmt.Sprintf("%v. Available tools: %s", err, strings.Join(d.tools.Names(), ", ")), err), nil
	}

	if err := validateArguments(tool.Spec, call.Arguments); err != nil {
		d.logger.Warn("Tool arguments failed validation.", zap.String("tool", call.Name), zap.Error(err))
		return failure(ErrCodeInvalidParameters, err.Error(), err), nil
	}

	inv := d.shim.Resolve(call)
	payload, err := d.invoke(ctx, tool, inv)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failure(ErrCodeExecutionFailure, ctxErr.Error(), ctxErr), ctxErr
		}
		code := classifyToolError(err)
		err = d.shim.ScrubError(err)
		msg := err.Error()
		if errors.Is(err, browser.ErrDriverUnavailable) {
			return failure(code, msg, err), err
		}
		d.logger.Warn("Tool execution failed.",
			zap.String("tool", call.Name),
			zap.String("error_code", string(code)),
			zap.String("error", msg))
		return failure(code, msg, err), nil
	}

	d.logger.Debug("Tool executed.", zap.String("tool", call.Name), zap.Int("payload_length", len(payload)))
	return Observation{Status: StatusSuccess, Payload: d.shim.Scrub(payload)}, nil
}

// invoke runs the handler and converts a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, tool Tool, inv ResolvedInvocation) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Tool handler panicked.",
				zap.String("tool", inv.Name()),
				zap.String("panic", d.shim.Scrub(fmt.Sprint(r))),
				zap.ByteString("stack", debug.Stack()))
			err = &handlerPanic{tool: inv.Name(), value: r}
		}
	}()
	return tool.Handler(ctx, d.env, inv)
}

type handlerPanic struct {
	tool  string
	value any
}

func (p *handlerPanic) Error() string {
	return fmt.Sprintf("tool %s failed unexpectedly: %v", p.tool, p.value)
}

func failure(code ErrorCode, msg string, err error) Observation {
	return Observation{Status: StatusFailure, Payload: "Error: " + msg, ErrorCode: code, Err: err}
}

// classifyToolError maps a handler error onto an ErrorCode. Typed errors are
// checked first; driver messages fall back to substring heuristics.
func classifyToolError(err error) ErrorCode {
	var panicErr *handlerPanic
	switch {
	case errors.As(err, &panicErr):
		return ErrCodeHandlerPanic
	case errors.Is(err, browser.ErrElementNotFound):
		return ErrCodeElementNotFound
	case errors.Is(err, browser.ErrUnsupportedSelector):
		return ErrCodeUnsupportedSelector
	case errors.Is(err, errInvalidArgument):
		return ErrCodeInvalidParameters
	case errors.Is(err, errHealthRejected), errors.Is(err, ErrDuplicateHealthReport):
		return ErrCodeHealthRejected
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeoutError
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "no element found"), strings.Contains(errStr, "no such element"):
		return ErrCodeElementNotFound
	case strings.Contains(errStr, "timeout"):
		return ErrCodeTimeoutError
	case strings.Contains(errStr, "net::err"), strings.Contains(errStr, "navigation"):
		return ErrCodeNavigationError
	}
	return ErrCodeExecutionFailure
}

// validateArguments checks args against the tool's closed schema.
func validateArguments(spec ToolSpec, args map[string]any) error {
	known := make(map[string]ParamSpec, len(spec.Params))
	for _, p := range spec.Params {
		known[p.Name] = p
	}

	var unexpected []string
	for name := range args {
		if _, ok := known[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return fmt.Errorf("%s: unexpected parameter(s) %s", spec.Name, strings.Join(unexpected, ", "))
	}

	for _, p := range spec.Params {
		value, present := args[p.Name]
		if !present || value == nil {
			if p.Required {
				return fmt.Errorf("%s: missing required parameter %q", spec.Name, p.Name)
			}
			continue
		}
		if err := checkType(p, value); err != nil {
			return fmt.Errorf("%s: %w", spec.Name, err)
		}
	}
	return nil
}

func checkType(p ParamSpec, value any) error {
	switch p.Type {
	case ParamString:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string", p.Name)
		}
		if len(p.Enum) > 0 {
			for _, allowed := range p.Enum {
				if strings.EqualFold(strings.TrimSpace(s), allowed) {
					return nil
				}
			}
			return fmt.Errorf("parameter %q must be one of %s, got %q", p.Name, strings.Join(p.Enum, ", "), s)
		}
	case ParamNumber, ParamInteger:
		f, ok := numeric(value)
		if !ok {
			return fmt.Errorf("parameter %q must be a number", p.Name)
		}
		if p.Type == ParamInteger && f != math.Trunc(f) {
			return fmt.Errorf("parameter %q must be an integer", p.Name)
		}
	}
	return nil
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		return ResolvedInvocation{args: map[string]any{"v": v}}.Number("v")
	}
	return 0, false
}
