package llmplugin

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

type stubChatClient struct {
	lastParams openai.ChatCompletionNewParams
	resp       *openai.ChatCompletion
	err        error
}

func (s *stubChatClient) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestOpenAIQueryTranslatesResponse(t *testing.T) {
	stub := &stubChatClient{
		resp: &openai.ChatCompletion{
			ID:    "chatcmpl_1",
			Model: "gpt-4o",
			Choices: []openai.ChatCompletionChoice{
				{
					Message:      openai.ChatCompletionMessage{Content: "hi back"},
					FinishReason: "stop",
				},
			},
			Usage: openai.CompletionUsage{PromptTokens: 7, CompletionTokens: 3},
		},
	}
	p, err := NewOpenAIProvider(stub, OpenAIOptions{DefaultModel: "gpt-4o", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := p.Query(context.Background(), plugin.LLMRequest{
		Messages: []plugin.LLMMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hi back", resp.Text)
	require.Equal(t, "gpt-4o", stub.lastParams.Model)
	require.Equal(t, 7, resp.Usage["input_tokens"])
}

func TestOpenAIQueryRequiresMessages(t *testing.T) {
	p, err := NewOpenAIProvider(&stubChatClient{}, OpenAIOptions{DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	_, err = p.Query(context.Background(), plugin.LLMRequest{})
	require.Error(t, err)
}
