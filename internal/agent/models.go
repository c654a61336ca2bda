// internal/agent/models.go
package agent

// Role tags a message in the decision history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the decision history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that requested a tool.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID and ToolName are set on tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	// Snapshot marks content that is page markup and may be truncated.
	Snapshot bool `json:"snapshot,omitempty"`
	// Pinned messages are never redacted by the compactor.
	Pinned bool `json:"pinned,omitempty"`
}

// ToolCall is a tool request exactly as the decision-maker produced it. Its
// arguments may hold credential placeholders but never resolved secrets.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ObservationStatus is the outcome of a dispatched tool.
type ObservationStatus string

const (
	StatusSuccess ObservationStatus = "SUCCESS"
	StatusFailure ObservationStatus = "FAILURE"
)

// Observation is the result of executing a ToolCall.
type Observation struct {
	Status    ObservationStatus `json:"status"`
	Payload   string            `json:"payload"`
	ErrorCode ErrorCode         `json:"error_code,omitempty"`
	// Err keeps the underlying error for logging and errors.Is checks.
	Err error `json:"-"`
}

// Succeeded reports whether the observation has SUCCESS status.
func (o Observation) Succeeded() bool { return o.Status == StatusSuccess }

// ParamType is the JSON schema type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
)

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Name        string
	Type        ParamType
	Description string
	Enum        []string
	Required    bool
}

// ToolSpec is the schema advertised to the decision-maker for one tool.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ParamSpec
}

// JSONSchema renders the parameters as a JSON schema object.
func (s ToolSpec) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Params))
	required := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
