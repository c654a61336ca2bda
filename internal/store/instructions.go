// internal/store/instructions.go
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Default goals used when the state file does not set one.
const (
	DefaultLoginGoal = "Log in successfully and reach the main app."
	DefaultChatGoal  = "Have a small conversation with the chat interface."
)

// LoginSystemPrompt is the default system template for the authentication phase.
const LoginSystemPrompt = `You are an automation agent controlling a headless browser via tools.
Interpret the HTML to infer the next step. If you have no HTML, call get_page_html to fetch it.
Goal: log in to the target website at {{.BaseURL}}. Use navigate to reach the login page if needed, use get_page_html to understand the form, then type_text and click to submit. Use check_is_logged_in to check progress. Keep iterating until logged in.
Policy: never include raw secrets in tool arguments. Use these placeholders:{{range .Placeholders}} {{.}}{{end}}. Placeholders are substituted with the real values at execution time.
Call exactly one tool per turn. Only use tools; do not fabricate steps.`

// ChatSystemPrompt is the default system template for the conversation phase.
const ChatSystemPrompt = `You are an automation agent controlling a browser to test a multi-LLM chat interface.
Your task is to hold a SMALL chat conversation to verify it works. You must complete exactly {{.Rounds}} turn(s) of conversation.
Use get_page_html after every action, since the page changes as you interact with it.
Each turn: 1) type a message, 2) click submit, 3) wait for ALL responses to complete.
IMPORTANT: the submit button may not appear until you have started typing. Fetch the HTML again after entering text to find it.
IMPORTANT: responses take a few seconds to return. While they are generating the text area is disabled and a spinner is shown. Use sleep or wait_for_element and judge when every response is complete.
Keep the conversation brief, e.g. "Hi", then "How are you?".
After completing all turns:
1. Inspect the final HTML with get_page_html.
2. Check that the responses look reasonable (not empty, not error messages).
3. Call report_completion with health OK if all responses look normal, or ERROR if you detect issues, and a brief health_description.
Use save_chat_capture after each turn. Call exactly one tool per turn. Only use tools.`

// LoginTaskPrompt and ChatTaskPrompt are the pinned task messages.
const (
	LoginTaskPrompt = "Instructions: {{.Goal}}"
	ChatTaskPrompt  = "Instructions: {{.Goal}}\nNumber of turns to complete: {{.Rounds}}"
)

// PhaseInstructions is one phase's section of the state file.
type PhaseInstructions struct {
	// Instructions is the goal text handed to the agent.
	Instructions string `yaml:"instructions"`
	// SystemPrompt optionally replaces the built-in system template.
	SystemPrompt string `yaml:"system_prompt"`
}

// RunInstructions mirrors config/state.yaml.
type RunInstructions struct {
	Login PhaseInstructions `yaml:"run_login"`
	Chats PhaseInstructions `yaml:"run_chats"`
}

// DefaultInstructions returns the built-in goals and templates.
func DefaultInstructions() RunInstructions {
	return RunInstructions{
		Login: PhaseInstructions{Instructions: DefaultLoginGoal, SystemPrompt: LoginSystemPrompt},
		Chats: PhaseInstructions{Instructions: DefaultChatGoal, SystemPrompt: ChatSystemPrompt},
	}
}

// LoadInstructions reads the state file at path and fills anything it leaves
// empty with the defaults. A missing file yields the defaults.
func LoadInstructions(path string, logger *zap.Logger) (RunInstructions, error) {
	log := logger.Named("store")
	out := DefaultInstructions()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("No run state file; using built-in instructions.", zap.String("path", path))
			return out, nil
		}
		return out, fmt.Errorf("failed to read run state: %w", err)
	}

	var parsed RunInstructions
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return out, fmt.Errorf("failed to parse run state %s: %w", path, err)
	}

	merge(&out.Login, parsed.Login)
	merge(&out.Chats, parsed.Chats)
	log.Info("Loaded run state.", zap.String("path", path))
	return out, nil
}

func merge(dst *PhaseInstructions, src PhaseInstructions) {
	if s := strings.TrimSpace(src.Instructions); s != "" {
		dst.Instructions = s
	}
	if s := strings.TrimSpace(src.SystemPrompt); s != "" {
		dst.SystemPrompt = s
	}
}
