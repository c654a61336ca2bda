// internal/agent/tools.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/browser"
)

var (
	errInvalidArgument = errors.New("invalid argument")
	errHealthRejected  = errors.New("health report rejected")
	errNoCapturer      = errors.New("artifact capture is not configured")
)

// Capturer saves the page markup and screenshot under a name and returns where.
type Capturer interface {
	Capture(ctx context.Context, drv browser.Driver, name string) (string, error)
}

// ToolEnv is what handlers may touch.
type ToolEnv struct {
	Session  *Session
	Capturer Capturer
	Logger   *zap.Logger
	// Sleep blocks for d or until ctx is done.
	Sleep    func(ctx context.Context, d time.Duration) error
	MaxSleep time.Duration
}

// Driver is the browser owned by the session.
func (e *ToolEnv) Driver() browser.Driver { return e.Session.Browser() }

// Handler executes one resolved tool invocation and returns the observation payload.
type Handler func(ctx context.Context, env *ToolEnv, inv ResolvedInvocation) (string, error)

// Tool binds a schema to its handler.
type Tool struct {
	Spec    ToolSpec
	Handler Handler
	// Snapshot marks tools whose payload is page markup.
	Snapshot bool
}

// ToolSet is the closed set of tools available in one phase.
type ToolSet struct {
	phase Phase
	tools map[string]Tool
	order []string
}

// NewToolSet builds a set from tools. Later tools replace earlier ones of the same name.
func NewToolSet(phase Phase, tools ...Tool) *ToolSet {
	ts := &ToolSet{phase: phase, tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, exists := ts.tools[t.Spec.Name]; !exists {
			ts.order = append(ts.order, t.Spec.Name)
		}
		ts.tools[t.Spec.Name] = t
	}
	return ts
}

func (ts *ToolSet) Phase() Phase { return ts.phase }

func (ts *ToolSet) Lookup(name string) (Tool, bool) {
	t, ok := ts.tools[name]
	return t, ok
}

// Names lists the tool names in registration order.
func (ts *ToolSet) Names() []string {
	out := make([]string, len(ts.order))
	copy(out, ts.order)
	return out
}

// Specs lists the tool schemas in registration order.
func (ts *ToolSet) Specs() []ToolSpec {
	out := make([]ToolSpec, 0, len(ts.order))
	for _, name := range ts.order {
		out = append(out, ts.tools[name].Spec)
	}
	return out
}

// -- Tool sets --

// AuthenticationTools are the common tools plus the login helpers.
func AuthenticationTools() *ToolSet {
	return NewToolSet(PhaseAuthenticating, append(commonTools(),
		Tool{
			Spec: ToolSpec{
				Name:        "check_is_logged_in",
				Description: "Return true if the user appears to be logged in on the current page.",
			},
			Handler: handleCheckIsLoggedIn,
		},
		Tool{
			Spec: ToolSpec{
				Name:        "navigate",
				Description: "Navigate the browser to a URL and return the resulting URL.",
				Params:      []ParamSpec{{Name: "url", Type: ParamString, Description: "Absolute URL to open.", Required: true}},
			},
			Handler: handleNavigate,
		},
		Tool{
			Spec: ToolSpec{
				Name:        "post_login_capture",
				Description: "Save the page markup and a screenshot after login to the run artifacts.",
			},
			Handler: handlePostLoginCapture,
		},
	)...)
}

// ConversationTools are the common tools plus the chat helpers.
func ConversationTools() *ToolSet {
	return NewToolSet(PhaseConversing, append(commonTools(),
		Tool{
			Spec: ToolSpec{
				Name:        "check_submit_button_present",
				Description: "Return true if a submit button is present, which indicates responses are complete.",
			},
			Handler: handleCheckSubmitButton,
		},
		Tool{
			Spec: ToolSpec{
				Name:        "save_chat_capture",
				Description: "Save the page markup and a screenshot under a name to the run artifacts.",
				Params:      []ParamSpec{{Name: "name", Type: ParamString, Description: "Short file name without extension.", Required: true}},
			},
			Handler: handleSaveChatCapture,
		},
		Tool{
			Spec: ToolSpec{
				Name:        "report_completion",
				Description: "Report the health of the chat application once all turns are done.",
				Params: []ParamSpec{
					{Name: "health", Type: ParamString, Description: "OK if all responses look normal, ERROR otherwise.", Enum: []string{string(HealthOK), string(HealthError)}, Required: true},
					{Name: "health_description", Type: ParamString, Description: "Brief description of what was found.", Required: true},
				},
			},
			Handler: handleReportCompletion,
		},
	)...)
}

func selectorParams() []ParamSpec {
	strategies := make([]string, 0, len(browser.Strategies))
	for _, by := range browser.Strategies {
		strategies = append(strategies, string(by))
	}
	return []ParamSpec{
		{Name: "selector", Type: ParamString, Description: "Selector identifying the element.", Required: true},
		{Name: "by", Type: ParamString, Description: "Selector strategy.", Enum: strategies, Required: true},
	}
}

func commonTools() []Tool {
	return []Tool{
		{
			Spec: ToolSpec{
				Name:        "get_page_html",
				Description: "Return the current page markup with scripts, styles and head metadata removed.",
			},
			Handler:  handleGetPageHTML,
			Snapshot: true,
		},
		{
			Spec: ToolSpec{
				Name: "type_text",
				Description: "Clear an element and type text into it. Never include raw secrets; use placeholders " +
					"such as <EMAIL> and <PASSWORD>, they are substituted at execution time.",
				Params: append(selectorParams(), ParamSpec{Name: "text", Type: ParamString, Description: "Text to type.", Required: true}),
			},
			Handler: handleTypeText,
		},
		{
			Spec: ToolSpec{
				Name:        "click",
				Description: "Click an element.",
				Params:      selectorParams(),
			},
			Handler: handleClick,
		},
		{
			Spec: ToolSpec{
				Name:        "sleep",
				Description: "Wait a number of seconds to let the page update.",
				Params:      []ParamSpec{{Name: "seconds", Type: ParamNumber, Description: "Seconds to wait.", Required: true}},
			},
			Handler: handleSleep,
		},
		{
			Spec: ToolSpec{
				Name:        "wait_for_element",
				Description: "Wait until an element is visible, up to a timeout.",
				Params: append(selectorParams(), ParamSpec{
					Name: "timeout_seconds", Type: ParamNumber, Description: "Maximum seconds to wait.", Required: true,
				}),
			},
			Handler: handleWaitForElement,
		},
	}
}

// -- Handlers --

func selectorFrom(inv ResolvedInvocation) (browser.Selector, error) {
	by, err := browser.ParseBy(inv.String("by"))
	if err != nil {
		return browser.Selector{}, err
	}
	value := inv.String("selector")
	if strings.TrimSpace(value) == "" {
		return browser.Selector{}, fmt.Errorf("%w: selector must not be empty", errInvalidArgument)
	}
	return browser.Selector{Value: value, By: by}, nil
}

// boundedDuration converts a seconds argument, capped at max.
func boundedDuration(inv ResolvedInvocation, key string, max time.Duration) (time.Duration, error) {
	seconds, ok := inv.Number(key)
	if !ok || seconds < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative number", errInvalidArgument, key)
	}
	d := time.Duration(seconds * float64(time.Second))
	if max > 0 && d > max {
		d = max
	}
	return d, nil
}

func handleGetPageHTML(ctx context.Context, env *ToolEnv, _ ResolvedInvocation) (string, error) {
	raw, err := env.Driver().HTML(ctx)
	if err != nil {
		return "", err
	}
	cleaned, err := CleanMarkup(raw)
	if err != nil {
		return "", err
	}
	env.Logger.Debug("Fetched page markup.", zap.Int("raw_length", len(raw)), zap.Int("cleaned_length", len(cleaned)))
	return cleaned, nil
}

func handleTypeText(ctx context.Context, env *ToolEnv, inv ResolvedInvocation) (string, error) {
	sel, err := selectorFrom(inv)
	if err != nil {
		return "", err
	}
	text := inv.String("text")
	if err := env.Driver().Type(ctx, sel, text); err != nil {
		return "", err
	}
	env.Session.noteTyped()
	if subs := inv.Substituted(); len(subs) > 0 {
		env.Logger.Info("Typed text.", zap.Stringer("selector", sel), zap.Strings("substituted", subs))
	} else {
		env.Logger.Info("Typed text.", zap.Stringer("selector", sel), zap.Int("text_len", len(text)))
	}
	return "OK", nil
}

func handleClick(ctx context.Context, env *ToolEnv, inv ResolvedInvocation) (string, error) {
	sel, err := selectorFrom(inv)
	if err != nil {
		return "", err
	}
	if err := env.Driver().Click(ctx, sel); err != nil {
		return "", err
	}
	env.Session.noteClicked()
	env.Logger.Info("Clicked element.", zap.Stringer("selector", sel))
	return "OK", nil
}

func handleSleep(ctx context.Context, env *ToolEnv, inv ResolvedInvocation) (string, error) {
	d, err := boundedDuration(inv, "seconds", env.MaxSleep)
	if err != nil {
		return "", err
	}
	if err := env.Sleep(ctx, d); err != nil {
		return "", err
	}
	return fmt.Sprintf("OK (slept %s)", d), nil
}

func handleWaitForElement(ctx context.Context, env *ToolEnv, inv ResolvedInvocation) (string, error) {
	sel, err := selectorFrom(inv)
	if err != nil {
		return "", err
	}
	d, err := boundedDuration(inv, "timeout_seconds", env.MaxSleep)
	if err != nil {
		return "", err
	}
	if err := env.Driver().WaitFor(ctx, sel, d); err != nil {
		return "", err
	}
	return "OK (element visible)", nil
}

func handleCheckIsLoggedIn(ctx context.Context, env *ToolEnv, _ ResolvedInvocation) (string, error) {
	loggedIn, err := IsLoggedIn(ctx, env.Driver())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%t", loggedIn), nil
}

func handleNavigate(ctx context.Context, env *ToolEnv, inv ResolvedInvocation) (string, error) {
	url := strings.TrimSpace(inv.String("url"))
	if url == "" {
		return "", fmt.Errorf("%w: url must not be empty", errInvalidArgument)
	}
	if err := env.Driver().Navigate(ctx, url); err != nil {
		return "", err
	}
	return env.Driver().CurrentURL(ctx)
}

func capture(ctx context.Context, env *ToolEnv, name string) (string, error) {
	if env.Capturer == nil {
		return "", errNoCapturer
	}
	return env.Capturer.Capture(ctx, env.Driver(), name)
}

func handlePostLoginCapture(ctx context.Context, env *ToolEnv, _ ResolvedInvocation) (string, error) {
	return capture(ctx, env, "post_login")
}

func handleSaveChatCapture(ctx context.Context, env *ToolEnv, inv ResolvedInvocation) (string, error) {
	name := strings.TrimSpace(inv.String("name"))
	if name == "" {
		return "", fmt.Errorf("%w: name must not be empty", errInvalidArgument)
	}
	return capture(ctx, env, name)
}

// submitSelectors indicate the chat is idle and accepts input.
var submitSelectors = []string{"button[type='submit']", "button.submit", "input[type='submit']"}

func handleCheckSubmitButton(ctx context.Context, env *ToolEnv, _ ResolvedInvocation) (string, error) {
	for _, css := range submitSelectors {
		found, err := env.Driver().Exists(ctx, browser.CSS(css))
		if err != nil {
			return "", err
		}
		if found {
			return "true", nil
		}
	}
	return "false", nil
}

func handleReportCompletion(_ context.Context, env *ToolEnv, inv ResolvedInvocation) (string, error) {
	health := Health(strings.ToUpper(strings.TrimSpace(inv.String("health"))))
	description := inv.String("health_description")

	if health == HealthOK {
		required, completed := env.Session.Rounds()
		if completed < required {
			return "", fmt.Errorf("%w: %d of %d conversation rounds completed, finish them before reporting OK",
				errHealthRejected, completed, required)
		}
	}
	if err := env.Session.reportHealth(health, description); err != nil {
		return "", err
	}
	env.Logger.Info("Health reported.", zap.String("health", string(health)), zap.String("description", description))
	return fmt.Sprintf("Completion reported: health=%s, description=%s", health, description), nil
}

// loginPasswordSelector reveals a login form still on screen.
var loginPasswordSelector = browser.CSS("input[type='password']")

// IsLoggedIn reports whether the page shows a logged-in state: the URL does not
// point at a login page and no password field is present.
func IsLoggedIn(ctx context.Context, drv browser.Driver) (bool, error) {
	current, err := drv.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	lower := strings.ToLower(current)
	if strings.Contains(lower, "login") || strings.Contains(lower, "signin") {
		return false, nil
	}
	hasPassword, err := drv.Exists(ctx, loginPasswordSelector)
	if err != nil {
		return false, err
	}
	return !hasPassword, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
