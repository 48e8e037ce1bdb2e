package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iceos/core/agentloop"
	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/llmprovider"
	"github.com/iceos/core/memory"
	"github.com/iceos/core/node"
)

// AgentExecutor runs KindAgent nodes: a bounded tool-use loop toward Goal.
type AgentExecutor struct {
	Deps    Dependencies
	Catalog map[string]Tool // tool name -> implementation, supplied by whoever constructs the executor
}

type toolInvokerAdapter struct {
	catalog map[string]Tool
}

func (a toolInvokerAdapter) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := a.catalog[name]
	if !ok {
		return "", fmt.Errorf("no tool named %q available to agent", name)
	}
	out, err := tool.Invoke(ctx, args, "")
	if err != nil {
		return "", err
	}
	b, _ := json.Marshal(out)
	return string(b), nil
}

func (e *AgentExecutor) Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error) {
	var payload node.AgentPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "agent node %s: decoding payload", n.ID)
	}

	provider, err := e.Deps.Providers(payload.Provider)
	if err != nil {
		return nil, ice.Wrap(ice.KindLLMProvider, err, "agent node %s", n.ID).WithNode(n.ID)
	}

	var schemas []llmprovider.ToolSchema
	for _, name := range payload.ToolNames {
		schemas = append(schemas, llmprovider.ToolSchema{Name: name})
	}

	handles, _ := ectx.Memory().(memory.Handles)
	goal := payload.Goal
	if handles.Episodic != nil {
		if recent, recErr := handles.Episodic.Recent(ctx, 5); recErr == nil && len(recent) > 0 {
			goal = withEpisodicContext(payload.Goal, recent)
		}
	}

	outcome, err := agentloop.Run(ctx, agentloop.Config{
		Provider: provider,
		Model:    payload.Model,
		Goal:     goal,
		Tools:    schemas,
		MaxTurns: payload.MaxTurns,
		Invoker:  toolInvokerAdapter{catalog: e.Catalog},
	})
	if err != nil {
		if e.Deps.Metrics != nil {
			e.Deps.Metrics.IncCounter("agent.runs.failed", 1, "provider", payload.Provider)
		}
		if e.Deps.Logger != nil {
			e.Deps.Logger.Error(ctx, "agent run failed", "node_id", string(n.ID), "goal", payload.Goal, "error", err.Error())
		}
		return nil, ice.Wrap(ice.KindOf(err), err, "agent node %s", n.ID).WithNode(n.ID)
	}
	if e.Deps.Metrics != nil {
		e.Deps.Metrics.IncCounter("agent.runs", 1, "provider", payload.Provider)
		e.Deps.Metrics.RecordGauge("agent.turns_used", float64(outcome.TurnsUsed))
	}
	if e.Deps.Logger != nil {
		e.Deps.Logger.Debug(ctx, "agent run succeeded", "node_id", string(n.ID), "turns_used", outcome.TurnsUsed, "tokens_used", outcome.TokensUsed)
	}
	if handles.Episodic != nil {
		_ = handles.Episodic.Append(ctx, map[string]any{
			"node_id": string(n.ID),
			"goal":    payload.Goal,
			"result":  outcome.FinalText,
		})
	}

	return map[string]any{
		"text":        outcome.FinalText,
		"turns_used":  outcome.TurnsUsed,
		"tokens_used": outcome.TokensUsed,
	}, nil
}

// withEpisodicContext prefixes goal with a summary of recent episodic
// entries so a multi-node agent run can refer back to earlier turns,
// grounded on SPEC_FULL.md §3.6's "memory_handles() is lazy... until an
// agent node first asks for them".
func withEpisodicContext(goal string, recent []map[string]any) string {
	var b strings.Builder
	b.WriteString("Recent context:\n")
	for _, entry := range recent {
		if g, ok := entry["goal"].(string); ok {
			b.WriteString("- goal: ")
			b.WriteString(g)
			if r, ok := entry["result"].(string); ok {
				b.WriteString(" -> ")
				b.WriteString(r)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\nGoal: ")
	b.WriteString(goal)
	return b.String()
}
