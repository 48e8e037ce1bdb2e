// Package agentloop implements the tool-use turn loop shared by the agent
// executor: call the model, execute any requested tools, feed results back,
// repeat until the model stops asking for tools or max_turns is hit.
// Grounded on the teacher's runtime/agent/engine separating "decide next
// step" from "drive the workflow", factored out here so the workflow
// executor's sub-run bootstrapping can reuse the same loop independently of
// the scheduler.
package agentloop

import (
	"context"
	"fmt"

	"github.com/iceos/core/ice"
	"github.com/iceos/core/llmprovider"
)

// ToolInvoker executes one tool call and returns its result as a string the
// model can read back.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Config bounds and describes one agent run.
type Config struct {
	Provider  llmprovider.Provider
	Model     string
	Goal      string
	Tools     []llmprovider.ToolSchema
	MaxTurns  int
	Invoker   ToolInvoker
}

// Outcome is the result of running the loop to completion.
type Outcome struct {
	FinalText   string
	TurnsUsed   int
	TokensUsed  int
	Transcript  []llmprovider.Message
}

// Run drives the loop. If the model keeps requesting tools past
// cfg.MaxTurns, it returns ice.KindAgentExhausted.
func Run(ctx context.Context, cfg Config) (Outcome, error) {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 8
	}

	messages := []llmprovider.Message{{Role: "user", Content: cfg.Goal}}
	var totalTokens int

	for turn := 0; turn < maxTurns; turn++ {
		resp, err := cfg.Provider.Complete(ctx, llmprovider.CompletionRequest{
			Model:    cfg.Model,
			Messages: messages,
			Tools:    cfg.Tools,
		})
		if err != nil {
			return Outcome{}, ice.Wrap(ice.KindLLMProvider, err, "agentloop: turn %d", turn)
		}
		totalTokens += resp.TokensUsed

		if len(resp.ToolCalls) == 0 {
			return Outcome{
				FinalText:  resp.Text,
				TurnsUsed:  turn + 1,
				TokensUsed: totalTokens,
				Transcript: messages,
			}, nil
		}

		messages = append(messages, llmprovider.Message{Role: "assistant", Content: resp.Text})
		for _, call := range resp.ToolCalls {
			if cfg.Invoker == nil {
				return Outcome{}, ice.New(ice.KindInternal, "agentloop: model requested tool %q but no invoker configured", call.Name)
			}
			result, err := cfg.Invoker.Invoke(ctx, call.Name, call.Arguments)
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
			}
			messages = append(messages, llmprovider.Message{Role: "tool", Content: result})
		}
	}

	return Outcome{}, ice.New(ice.KindAgentExhausted, "agentloop: exceeded max_turns=%d without convergence", maxTurns)
}
