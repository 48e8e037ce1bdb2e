package executor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/llmprovider"
	"github.com/iceos/core/memory"
	"github.com/iceos/core/node"
	"github.com/stretchr/testify/require"
)

func agentNode(payload node.AgentPayload) node.Spec {
	raw, _ := json.Marshal(payload)
	return node.Spec{ID: "n1", Kind: node.KindAgent, Payload: raw}
}

func TestAgentExecutor_RunsToolUseLoopToCompletion(t *testing.T) {
	provider := &fakeProvider{resp: llmprovider.CompletionResponse{Text: "done", TokensUsed: 4}}
	deps := Dependencies{Providers: llmprovider.NewStaticFactory(map[string]llmprovider.Provider{"anthropic": provider})}
	e := &AgentExecutor{Deps: deps, Catalog: map[string]Tool{}}

	n := agentNode(node.AgentPayload{Goal: "summarize", Provider: "anthropic", Model: "claude", MaxTurns: 2})
	out, err := e.Execute(context.Background(), n, execctx.New(ice.NewRunID(), nil, nil))

	require.NoError(t, err)
	require.Equal(t, "done", out["text"])
	require.Equal(t, 1, out["turns_used"])
}

func TestAgentExecutor_UnknownProviderFails(t *testing.T) {
	deps := Dependencies{Providers: llmprovider.NewStaticFactory(nil)}
	e := &AgentExecutor{Deps: deps}

	n := agentNode(node.AgentPayload{Goal: "x", Provider: "ghost"})
	_, err := e.Execute(context.Background(), n, execctx.New(ice.NewRunID(), nil, nil))
	require.Equal(t, ice.KindLLMProvider, ice.KindOf(err))
}

func TestAgentExecutor_SuccessRecordsMetricAndDebugLog(t *testing.T) {
	provider := &fakeProvider{resp: llmprovider.CompletionResponse{Text: "done", TokensUsed: 4}}
	logger := &recordingLogger{}
	metrics := newRecordingMetrics()
	deps := Dependencies{
		Providers: llmprovider.NewStaticFactory(map[string]llmprovider.Provider{"anthropic": provider}),
		Logger:    logger,
		Metrics:   metrics,
	}
	e := &AgentExecutor{Deps: deps, Catalog: map[string]Tool{}}

	n := agentNode(node.AgentPayload{Goal: "summarize", Provider: "anthropic", Model: "claude", MaxTurns: 2})
	_, err := e.Execute(context.Background(), n, execctx.New(ice.NewRunID(), nil, nil))

	require.NoError(t, err)
	require.Equal(t, float64(1), metrics.counters["agent.runs"])
	require.Len(t, logger.debugs, 1)
}

func TestAgentExecutor_ProviderErrorRecordsFailureMetricAndErrorLog(t *testing.T) {
	provider := &fakeProvider{err: errBoom}
	logger := &recordingLogger{}
	metrics := newRecordingMetrics()
	deps := Dependencies{
		Providers: llmprovider.NewStaticFactory(map[string]llmprovider.Provider{"anthropic": provider}),
		Logger:    logger,
		Metrics:   metrics,
	}
	e := &AgentExecutor{Deps: deps, Catalog: map[string]Tool{}}

	n := agentNode(node.AgentPayload{Goal: "summarize", Provider: "anthropic", Model: "claude", MaxTurns: 2})
	_, err := e.Execute(context.Background(), n, execctx.New(ice.NewRunID(), nil, nil))

	require.Error(t, err)
	require.Equal(t, float64(1), metrics.counters["agent.runs.failed"])
	require.Len(t, logger.errors, 1)
}

func TestAgentExecutor_UsesRecentEpisodicMemoryAsContextAndAppendsOutcome(t *testing.T) {
	provider := &fakeProvider{resp: llmprovider.CompletionResponse{Text: "done", TokensUsed: 4}}
	episodic := &fakeEpisodic{recent: []map[string]any{{"goal": "earlier task", "result": "earlier result"}}}
	deps := Dependencies{Providers: llmprovider.NewStaticFactory(map[string]llmprovider.Provider{"anthropic": provider})}
	e := &AgentExecutor{Deps: deps, Catalog: map[string]Tool{}}

	memFactory := func(ice.RunID) any { return memory.Handles{Episodic: episodic} }
	ectx := execctx.New(ice.NewRunID(), nil, memFactory)

	n := agentNode(node.AgentPayload{Goal: "summarize", Provider: "anthropic", Model: "claude", MaxTurns: 2})
	out, err := e.Execute(context.Background(), n, ectx)

	require.NoError(t, err)
	require.Equal(t, "done", out["text"])
	require.Len(t, episodic.appends, 1)
	require.Equal(t, "summarize", episodic.appends[0]["goal"])
}

func TestAgentExecutor_WithNoMemoryFactoryStillSucceeds(t *testing.T) {
	provider := &fakeProvider{resp: llmprovider.CompletionResponse{Text: "done"}}
	deps := Dependencies{Providers: llmprovider.NewStaticFactory(map[string]llmprovider.Provider{"anthropic": provider})}
	e := &AgentExecutor{Deps: deps, Catalog: map[string]Tool{}}

	n := agentNode(node.AgentPayload{Goal: "summarize", Provider: "anthropic", Model: "claude", MaxTurns: 2})
	_, err := e.Execute(context.Background(), n, execctx.New(ice.NewRunID(), nil, nil))
	require.NoError(t, err)
}

func TestWithEpisodicContext_PrependsRecentEntriesBeforeGoal(t *testing.T) {
	recent := []map[string]any{{"goal": "a", "result": "b"}}
	out := withEpisodicContext("new goal", recent)
	require.True(t, strings.Contains(out, "a -> b"))
	require.True(t, strings.HasSuffix(out, "Goal: new goal"))
}

func TestToolInvokerAdapter_InvokesCatalogToolAndEncodesJSON(t *testing.T) {
	tool := &fakeTool{output: map[string]any{"ok": true}}
	adapter := toolInvokerAdapter{catalog: map[string]Tool{"search": tool}}

	out, err := adapter.Invoke(context.Background(), "search", map[string]any{"q": "go"})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, out)
}

func TestToolInvokerAdapter_UnknownToolReturnsError(t *testing.T) {
	adapter := toolInvokerAdapter{catalog: map[string]Tool{}}
	_, err := adapter.Invoke(context.Background(), "ghost", nil)
	require.Error(t, err)
}
