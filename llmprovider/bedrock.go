package llmprovider

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/iceos/core/ice"
)

// BedrockProvider adapts the AWS Bedrock Runtime InvokeModel API to
// Provider, using the Anthropic-on-Bedrock message wire format (the teacher
// depends on both anthropic-sdk-go and aws-sdk-go-v2/bedrockruntime side by
// side for this reason).
type BedrockProvider struct {
	client *bedrockruntime.Client
}

func NewBedrockProvider(client *bedrockruntime.Client) *BedrockProvider {
	return &BedrockProvider{client: client}
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	StopReason string `json:"stop_reason"`
}

func (p *BedrockProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	msgs := make([]bedrockMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		msgs = append(msgs, bedrockMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         msgs,
	})
	if err != nil {
		return CompletionResponse{}, ice.Wrap(ice.KindLLMProvider, err, "bedrock: marshal request")
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(req.Model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return CompletionResponse{}, ice.Wrap(ice.KindLLMProvider, err, "bedrock: InvokeModel")
	}

	var parsed bedrockResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return CompletionResponse{}, ice.Wrap(ice.KindLLMProvider, err, "bedrock: unmarshal response")
	}

	resp := CompletionResponse{
		TokensUsed: parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		StopReason: parsed.StopReason,
	}
	for _, c := range parsed.Content {
		resp.Text += c.Text
	}
	return resp, nil
}
