// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/agent"
	"github.com/xkilldash9x/canary-cli/internal/config"
	"github.com/xkilldash9x/canary-cli/internal/llmutil"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4.1-mini"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OpenAIClient asks an OpenAI-compatible chat completions endpoint for the
// next tool call.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
	newBackOff  func() backoff.BackOff
	logger      *zap.Logger
}

// NewOpenAIClient initializes the client. Endpoint, when set, replaces the
// default base URL (Azure, local gateways).
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (llm.api_key or OPENAI_API_KEY)")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are handled here so they are logged and bounded by our policy.
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: float64(cfg.Temperature),
		timeout:     cfg.APITimeout,
		newBackOff:  defaultBackOff,
		logger:      logger.Named("llm_client.openai"),
	}, nil
}

// Decide sends the history and tool schemas and returns the model's choice.
func (c *OpenAIClient) Decide(ctx context.Context, req agent.DecisionRequest) (*agent.Decision, error) {
	params := c.buildParams(req)

	var completion *openai.ChatCompletion
	operation := func() error {
		callCtx, cancel := c.requestContext(ctx)
		defer cancel()

		startTime := time.Now()
		resp, err := c.client.Chat.Completions.New(callCtx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) && !isTransientStatus(apiErr.StatusCode) {
				return backoff.Permanent(fmt.Errorf("openai API returned status %d: %w", apiErr.StatusCode, err))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("openai request failed: %w", err)
		}

		c.logger.Info("LLM decision complete (OpenAI)",
			zap.Duration("duration", time.Since(startTime)),
			zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
			zap.Int64("total_tokens", resp.Usage.TotalTokens),
		)
		completion = resp
		return nil
	}

	if err := retry(ctx, c.newBackOff(), c.logger, operation); err != nil {
		return nil, err
	}
	return c.parseCompletion(completion)
}

func (c *OpenAIClient) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *OpenAIClient) buildParams(req agent.DecisionRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:             openai.ChatModel(c.model),
		Messages:          toOpenAIMessages(req.History),
		Temperature:       openai.Float(c.temperature),
		ParallelToolCalls: openai.Bool(false),
	}
	for _, spec := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(spec.JSONSchema()),
			},
		})
	}
	return params
}

func toOpenAIMessages(history []agent.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case agent.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case agent.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				args, err := json.MarshalToString(call.Arguments)
				if err != nil {
					args = "{}"
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case agent.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

// parseCompletion maps the first choice onto a Decision. Only the first tool
// call is honoured; the loop executes one call per turn.
func (c *OpenAIClient) parseCompletion(resp *openai.ChatCompletion) (*agent.Decision, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai API returned no choices")
	}
	choice := resp.Choices[0]
	msg := choice.Message

	if len(msg.ToolCalls) > 0 {
		if len(msg.ToolCalls) > 1 {
			c.logger.Warn("Model returned several tool calls; using the first.", zap.Int("count", len(msg.ToolCalls)))
		}
		tc := msg.ToolCalls[0]
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("tool call %q has malformed arguments: %w", tc.Function.Name, err)
		}
		return &agent.Decision{
			Call: &agent.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args},
			Text: msg.Content,
		}, nil
	}

	text := strings.TrimSpace(msg.Content)
	return &agent.Decision{
		Text:    text,
		Proceed: choice.FinishReason == "stop" && text != "",
	}, nil
}

func decodeArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	args, err := llmutil.ParseObject[map[string]any](raw)
	if err != nil {
		return nil, err
	}
	if *args == nil {
		return map[string]any{}, nil
	}
	return *args, nil
}
