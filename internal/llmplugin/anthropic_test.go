package llmplugin

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestAnthropicQueryTranslatesTextResponse(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			ID:    "msg_1",
			Model: "claude-3.5-sonnet",
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello there"},
			},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	p, err := NewAnthropicProvider(stub, AnthropicOptions{DefaultModel: "claude-3.5-sonnet", MaxTokens: 256})
	require.NoError(t, err)

	resp, err := p.Query(context.Background(), plugin.LLMRequest{
		Messages: []plugin.LLMMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Text)
	require.Equal(t, "completed", resp.Status)
	require.Equal(t, 10, resp.Usage["input_tokens"])
	require.Equal(t, 5, resp.Usage["output_tokens"])
	require.Equal(t, int64(256), stub.lastParams.MaxTokens)
	require.Len(t, stub.lastParams.System, 1)
}

func TestAnthropicQueryRequiresMessages(t *testing.T) {
	p, err := NewAnthropicProvider(&stubMessagesClient{}, AnthropicOptions{DefaultModel: "claude-3.5-sonnet", MaxTokens: 64})
	require.NoError(t, err)
	_, err = p.Query(context.Background(), plugin.LLMRequest{})
	require.Error(t, err)
}

func TestNewAnthropicProviderRequiresDefaultModel(t *testing.T) {
	_, err := NewAnthropicProvider(&stubMessagesClient{}, AnthropicOptions{})
	require.Error(t, err)
}
