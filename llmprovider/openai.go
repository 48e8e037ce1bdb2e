package llmprovider

import (
	"context"

	"github.com/iceos/core/ice"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// OpenAIProvider adapts the Chat Completions API to Provider.
type OpenAIProvider struct {
	client  openai.Client
	limiter *rate.Limiter
}

func NewOpenAIProvider(apiKey string, ratePerSecond float64) *OpenAIProvider {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &OpenAIProvider{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		limiter: limiter,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return CompletionResponse{}, ice.Wrap(ice.KindLLMProvider, err, "openai: rate limiter")
		}
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, ice.Wrap(ice.KindLLMProvider, err, "openai: Chat.Completions.New")
	}
	if len(resp.Choices) == 0 {
		return CompletionResponse{}, ice.New(ice.KindLLMProvider, "openai: empty choices")
	}

	return CompletionResponse{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.TotalTokens),
		StopReason: string(resp.Choices[0].FinishReason),
	}, nil
}
