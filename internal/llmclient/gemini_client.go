// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/canary-cli/internal/agent"
	"github.com/xkilldash9x/canary-cli/internal/config"
)

// DefaultGeminiModel is used when the configured model is empty or belongs to
// another provider.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient implements agent.DecisionMaker with the Gemini API function
// calling interface.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	newBackOff  func() backoff.BackOff
	logger      *zap.Logger
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required (llm.api_key or GEMINI_API_KEY)")
	}
	logger = logger.Named("llm_client.gemini")

	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		if model != "" {
			logger.Warn("Configured model is not a Gemini model; using the default.", zap.String("configured", model), zap.String("model", DefaultGeminiModel))
		}
		model = DefaultGeminiModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     cfg.APITimeout,
		newBackOff:  defaultBackOff,
		logger:      logger,
	}, nil
}

// Decide sends the history and function declarations and returns the model's choice.
func (c *GeminiClient) Decide(ctx context.Context, req agent.DecisionRequest) (*agent.Decision, error) {
	contents, genCfg := buildGeminiRequest(req, c.temperature)

	var resp *genai.GenerateContentResponse
	operation := func() error {
		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		startTime := time.Now()
		r, err := c.client.Models.GenerateContent(callCtx, c.model, contents, genCfg)
		if err != nil {
			var apiErr genai.APIError
			if errors.As(err, &apiErr) && !isTransientStatus(apiErr.Code) {
				return backoff.Permanent(fmt.Errorf("gemini API returned status %d: %w", apiErr.Code, err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("gemini request failed: %w", err)
		}

		fields := []zap.Field{zap.Duration("duration", time.Since(startTime))}
		if r.UsageMetadata != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", r.UsageMetadata.PromptTokenCount),
				zap.Int32("completion_tokens", r.UsageMetadata.CandidatesTokenCount),
				zap.Int32("total_tokens", r.UsageMetadata.TotalTokenCount),
			)
		}
		c.logger.Info("LLM decision complete (Gemini)", fields...)
		resp = r
		return nil
	}

	if err := retry(ctx, c.newBackOff(), c.logger, operation); err != nil {
		return nil, err
	}
	return parseGeminiResponse(resp, c.logger)
}

// buildGeminiRequest converts the history. System messages become the system
// instruction; tool observations are sent back as function responses.
func buildGeminiRequest(req agent.DecisionRequest, temperature float32) ([]*genai.Content, *genai.GenerateContentConfig) {
	var system []*genai.Part
	contents := make([]*genai.Content, 0, len(req.History))

	for _, msg := range req.History {
		switch msg.Role {
		case agent.RoleSystem:
			system = append(system, &genai.Part{Text: msg.Content})
		case agent.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Arguments,
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		case agent.RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     msg.ToolName,
					Response: map[string]any{"output": msg.Content},
				}}},
			})
		default:
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}

	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(temperature)}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, spec := range req.Tools {
			decls = append(decls, toFunctionDeclaration(spec))
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return contents, cfg
}

func toFunctionDeclaration(spec agent.ToolSpec) *genai.FunctionDeclaration {
	schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	for _, p := range spec.Params {
		prop := &genai.Schema{Description: p.Description, Enum: p.Enum}
		switch p.Type {
		case agent.ParamNumber:
			prop.Type = genai.TypeNumber
		case agent.ParamInteger:
			prop.Type = genai.TypeInteger
		default:
			prop.Type = genai.TypeString
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return &genai.FunctionDeclaration{Name: spec.Name, Description: spec.Description, Parameters: schema}
}

func parseGeminiResponse(resp *genai.GenerateContentResponse, logger *zap.Logger) (*agent.Decision, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini API returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonBlocklist {
		return nil, fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason)
	}

	var text strings.Builder
	var calls []*genai.FunctionCall
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.FunctionCall != nil {
				calls = append(calls, part.FunctionCall)
			} else if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}

	if len(calls) > 0 {
		if len(calls) > 1 {
			logger.Warn("Model returned several function calls; using the first.", zap.Int("count", len(calls)))
		}
		fc := calls[0]
		id := fc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		return &agent.Decision{
			Call: &agent.ToolCall{ID: id, Name: fc.Name, Arguments: args},
			Text: strings.TrimSpace(text.String()),
		}, nil
	}

	trimmed := strings.TrimSpace(text.String())
	return &agent.Decision{
		Text:    trimmed,
		Proceed: candidate.FinishReason == genai.FinishReasonStop && trimmed != "",
	}, nil
}
