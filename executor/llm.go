package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/llmprovider"
	"github.com/iceos/core/node"
	"github.com/iceos/core/telemetry"
)

// LLMExecutor runs KindLLM nodes: a single completion call against a
// provider resolved by the node's declared provider/model.
type LLMExecutor struct {
	Deps Dependencies
}

func (e *LLMExecutor) Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error) {
	var payload node.LLMPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "llm node %s: decoding payload", n.ID)
	}

	provider, err := e.Deps.Providers(payload.Provider)
	if err != nil {
		return nil, ice.Wrap(ice.KindLLMProvider, err, "llm node %s", n.ID).WithNode(n.ID)
	}

	start := time.Now()
	resp, err := provider.Complete(ctx, llmprovider.CompletionRequest{
		Model:       payload.Model,
		Messages:    []llmprovider.Message{{Role: "user", Content: payload.Prompt}},
		Temperature: payload.Temperature,
		MaxTokens:   n.MaxTokens,
	})
	if err != nil {
		e.logError(ctx, n, payload.Provider, payload.Model, err)
		return nil, ice.Wrap(ice.KindLLMProvider, err, "llm node %s", n.ID).WithNode(n.ID)
	}
	e.logSuccess(n, payload.Provider, payload.Model, resp.TokensUsed, time.Since(start))

	if e.Deps.CostRates != nil {
		ectx.AddCost(float64(resp.TokensUsed) * e.Deps.CostRates(payload.Provider, payload.Model))
	}

	return map[string]any{
		"text":        resp.Text,
		"tokens_used": resp.TokensUsed,
		"stop_reason": resp.StopReason,
	}, nil
}

func (e *LLMExecutor) logSuccess(n node.Spec, provider, model string, tokens int, elapsed time.Duration) {
	if e.Deps.Metrics != nil {
		e.Deps.Metrics.IncCounter("llm.completions", 1, "provider", provider, "model", model)
	}
	if e.Deps.Logger != nil {
		nt := telemetry.NodeTelemetry{
			DurationMs: elapsed.Milliseconds(),
			TokensUsed: tokens,
			Model:      model,
			Extra:      map[string]any{"node_id": string(n.ID), "provider": provider},
		}
		e.Deps.Logger.Debug(context.Background(), "llm completion succeeded", nt.KeyVals()...)
	}
}

func (e *LLMExecutor) logError(ctx context.Context, n node.Spec, provider, model string, err error) {
	if e.Deps.Metrics != nil {
		e.Deps.Metrics.IncCounter("llm.completions.failed", 1, "provider", provider, "model", model)
	}
	if e.Deps.Logger != nil {
		e.Deps.Logger.Error(ctx, "llm completion failed",
			"node_id", string(n.ID), "provider", provider, "model", model, "error", err.Error())
	}
}
