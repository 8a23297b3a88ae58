package llmplugin

import (
	"context"
	"errors"
	"strings"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

// Router dispatches an llm_query step to one of two configured providers
// based on the requested model identifier, falling back to a configured
// default when the step specifies no model.
type Router struct {
	anthropic    plugin.LLM
	openai       plugin.LLM
	defaultModel string
}

var _ plugin.LLM = (*Router)(nil)

// RouterOptions configures a Router. At least one of Anthropic/OpenAI must
// be set.
type RouterOptions struct {
	Anthropic plugin.LLM
	OpenAI    plugin.LLM
	// DefaultModel is substituted into the request when the step omits a
	// model, so routing can still pick a provider.
	DefaultModel string
}

// NewRouter builds a Router from the configured providers.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Anthropic == nil && opts.OpenAI == nil {
		return nil, errors.New("llmplugin: at least one provider is required")
	}
	return &Router{anthropic: opts.Anthropic, openai: opts.OpenAI, defaultModel: opts.DefaultModel}, nil
}

// Query routes req to the Anthropic provider for "claude*" model
// identifiers, and to the OpenAI provider for everything else (primarily
// "gpt*"/"o1*"/"o3*"). When only one provider is configured it always
// handles the request, regardless of the requested model.
func (r *Router) Query(ctx context.Context, req plugin.LLMRequest) (plugin.LLMResponse, error) {
	if req.Model == "" {
		req.Model = r.defaultModel
	}
	if r.anthropic != nil && r.openai == nil {
		return r.anthropic.Query(ctx, req)
	}
	if r.openai != nil && r.anthropic == nil {
		return r.openai.Query(ctx, req)
	}
	if strings.HasPrefix(strings.ToLower(req.Model), "claude") {
		return r.anthropic.Query(ctx, req)
	}
	return r.openai.Query(ctx, req)
}
