// Package llmplugin implements plugin.LLM over the Anthropic Messages API
// and the OpenAI Chat Completions API, trimmed to the llm_query step's
// much smaller surface: a single role-tagged message list in, a flat text
// response out. Tool use, streaming, and extended thinking have no step in
// this system that drives them, so they are dropped rather than carried
// as dead weight.
package llmplugin

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK used by
	// AnthropicProvider. It is satisfied by *sdk.MessageService so callers
	// can pass either a real client or a fake in tests.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// AnthropicOptions configures AnthropicProvider.
	AnthropicOptions struct {
		// DefaultModel is used when an llm_query step omits model.
		DefaultModel string
		// MaxTokens is the default completion cap when a request does not
		// specify one.
		MaxTokens int
		// Temperature is used when a request does not specify one.
		Temperature float64
	}

	// AnthropicProvider implements plugin.LLM over the Anthropic Messages
	// API.
	AnthropicProvider struct {
		msg          MessagesClient
		defaultModel string
		maxTokens    int
		temperature  float64
	}
)

var _ plugin.LLM = (*AnthropicProvider)(nil)

// NewAnthropicProvider builds a provider from an already-constructed
// Messages client (or a fake, for tests).
func NewAnthropicProvider(msg MessagesClient, opts AnthropicOptions) (*AnthropicProvider, error) {
	if msg == nil {
		return nil, errors.New("llmplugin: anthropic messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llmplugin: default model is required")
	}
	return &AnthropicProvider{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewAnthropicProviderFromAPIKey constructs a provider using the default
// Anthropic HTTP client.
func NewAnthropicProviderFromAPIKey(apiKey string, opts AnthropicOptions) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("llmplugin: anthropic api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicProvider(&c.Messages, opts)
}

// Query issues a non-streaming Messages.New request and translates the
// response into plugin.LLMResponse.
func (p *AnthropicProvider) Query(ctx context.Context, req plugin.LLMRequest) (plugin.LLMResponse, error) {
	if len(req.Messages) == 0 {
		return plugin.LLMResponse{}, errors.New("llmplugin: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens <= 0 {
		return plugin.LLMResponse{}, errors.New("llmplugin: max_tokens must be positive")
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = p.temperature
	}

	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}

	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return plugin.LLMResponse{}, fmt.Errorf("llmplugin: anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			text += block.Text
		}
	}

	return plugin.LLMResponse{
		Status: "completed",
		Text:   text,
		Model:  string(msg.Model),
		Usage: map[string]int{
			"input_tokens":  int(msg.Usage.InputTokens),
			"output_tokens": int(msg.Usage.OutputTokens),
		},
		Raw: map[string]any{"id": msg.ID, "stop_reason": string(msg.StopReason)},
	}, nil
}
