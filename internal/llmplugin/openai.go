package llmplugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

type (
	// ChatClient captures the subset of the official OpenAI SDK used by
	// OpenAIProvider.
	ChatClient interface {
		New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	}

	// OpenAIOptions configures OpenAIProvider.
	OpenAIOptions struct {
		DefaultModel string
		MaxTokens    int
		Temperature  float64
	}

	// OpenAIProvider implements plugin.LLM over the OpenAI Chat Completions
	// API, serving as the secondary provider behind AnthropicProvider.
	OpenAIProvider struct {
		chat         ChatClient
		defaultModel string
		maxTokens    int
		temperature  float64
	}
)

var _ plugin.LLM = (*OpenAIProvider)(nil)

// NewOpenAIProvider builds a provider from an already-constructed chat
// completions client (or a fake, for tests).
func NewOpenAIProvider(chat ChatClient, opts OpenAIOptions) (*OpenAIProvider, error) {
	if chat == nil {
		return nil, errors.New("llmplugin: openai chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("llmplugin: default model is required")
	}
	return &OpenAIProvider{
		chat:         chat,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewOpenAIProviderFromAPIKey constructs a provider using the default
// OpenAI HTTP client.
func NewOpenAIProviderFromAPIKey(apiKey string, opts OpenAIOptions) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("llmplugin: openai api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIProvider(&client.Chat.Completions, opts)
}

// Query issues a chat completion request and translates the response into
// plugin.LLMResponse.
func (p *OpenAIProvider) Query(ctx context.Context, req plugin.LLMRequest) (plugin.LLMResponse, error) {
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
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = p.temperature
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	resp, err := p.chat.New(ctx, params)
	if err != nil {
		return plugin.LLMResponse{}, fmt.Errorf("llmplugin: openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return plugin.LLMResponse{}, errors.New("llmplugin: openai returned no choices")
	}

	return plugin.LLMResponse{
		Status: "completed",
		Text:   resp.Choices[0].Message.Content,
		Model:  resp.Model,
		Usage: map[string]int{
			"input_tokens":  int(resp.Usage.PromptTokens),
			"output_tokens": int(resp.Usage.CompletionTokens),
		},
		Raw: map[string]any{"id": resp.ID, "finish_reason": string(resp.Choices[0].FinishReason)},
	}, nil
}
