package llmprovider

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/iceos/core/ice"
	"golang.org/x/time/rate"
)

// AnthropicProvider adapts the Anthropic Messages API to Provider.
type AnthropicProvider struct {
	client  anthropic.Client
	limiter *rate.Limiter
}

// NewAnthropicProvider builds a Provider backed by the Anthropic SDK,
// rate-limited to ratePerSecond requests/sec (0 disables limiting).
func NewAnthropicProvider(apiKey string, ratePerSecond float64) *AnthropicProvider {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &AnthropicProvider{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		limiter: limiter,
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return CompletionResponse{}, ice.Wrap(ice.KindLLMProvider, err, "anthropic: rate limiter")
		}
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	})
	if err != nil {
		return CompletionResponse{}, ice.Wrap(ice.KindLLMProvider, err, "anthropic: Messages.New")
	}

	out := CompletionResponse{StopReason: string(resp.StopReason)}
	for _, block := range resp.Content {
		if text := block.Text; text != "" {
			out.Text += text
		}
	}
	out.TokensUsed = int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	return out, nil
}
