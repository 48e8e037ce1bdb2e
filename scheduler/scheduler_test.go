package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iceos/core/compiler"
	"github.com/iceos/core/execctx"
	"github.com/iceos/core/eventbus"
	"github.com/iceos/core/executor"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
	"github.com/iceos/core/telemetry"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type recordingTracer struct {
	mu    sync.Mutex
	names []string
	errs  int
}

type recordingSpan struct{ t *recordingTracer }

func (recordingSpan) End(...oteltrace.SpanEndOption)  {}
func (recordingSpan) AddEvent(string, ...any)         {}
func (recordingSpan) SetStatus(otelcodes.Code, string) {}
func (s recordingSpan) RecordError(err error, _ ...oteltrace.EventOption) {
	if err != nil {
		s.t.mu.Lock()
		s.t.errs++
		s.t.mu.Unlock()
	}
}

func (t *recordingTracer) Start(ctx context.Context, name string, _ ...oteltrace.SpanStartOption) (context.Context, telemetry.Span) {
	t.mu.Lock()
	t.names = append(t.names, name)
	t.mu.Unlock()
	return ctx, recordingSpan{t: t}
}

type fakeExecutor struct {
	fn func(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error) {
	return f.fn(ctx, n, ectx)
}

func succeeding(out map[string]any) *fakeExecutor {
	return &fakeExecutor{fn: func(context.Context, node.Spec, *execctx.Context) (map[string]any, error) {
		return out, nil
	}}
}

func failingAlways(err error) *fakeExecutor {
	return &fakeExecutor{fn: func(context.Context, node.Spec, *execctx.Context) (map[string]any, error) {
		return nil, err
	}}
}

func newPlan(levels [][]node.Spec, maxParallel int) *compiler.Plan {
	nodesByID := make(map[ice.NodeID]node.Spec)
	dependents := make(map[ice.NodeID][]ice.NodeID)
	for _, level := range levels {
		for _, n := range level {
			nodesByID[n.ID] = n
			for _, dep := range n.DependsOn {
				dependents[dep] = append(dependents[dep], n.ID)
			}
		}
	}
	return &compiler.Plan{Levels: levels, NodesByID: nodesByID, Dependents: dependents, MaxParallel: maxParallel}
}

func TestScheduler_RunSucceedsAndSetsOutputs(t *testing.T) {
	execs := map[node.Kind]executor.Executor{node.KindTool: succeeding(map[string]any{"v": 1})}
	s := New(execs, nil)

	plan := newPlan([][]node.Spec{{{ID: "a", Kind: node.KindTool}}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusSucceeded, results["a"].Status)

	out, ok := ectx.Output("a")
	require.True(t, ok)
	require.Equal(t, 1, out["v"])
}

func TestScheduler_FailedNodeCascadesSkipToDependents(t *testing.T) {
	execs := map[node.Kind]executor.Executor{
		node.KindTool: failingAlways(ice.New(ice.KindToolExecution, "boom")),
	}
	s := New(execs, nil)

	a := node.Spec{ID: "a", Kind: node.KindTool}
	b := node.Spec{ID: "b", Kind: node.KindTool, DependsOn: []ice.NodeID{"a"}}
	plan := newPlan([][]node.Spec{{a}, {b}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusFailed, results["a"].Status)
	require.Equal(t, node.StatusSkipped, results["b"].Status)
}

func TestScheduler_ContinueOnErrorDoesNotCascade(t *testing.T) {
	execs := map[node.Kind]executor.Executor{
		node.KindTool: failingAlways(ice.New(ice.KindToolExecution, "boom")),
	}
	s := New(execs, nil)

	a := node.Spec{ID: "a", Kind: node.KindTool, ContinueOnError: true}
	b := node.Spec{ID: "b", Kind: node.KindTool, DependsOn: []ice.NodeID{"a"}}
	plan := newPlan([][]node.Spec{{a}, {b}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusFailed, results["a"].Status)
	require.NotEqual(t, node.StatusSkipped, results["b"].Status)
}

func TestScheduler_RetriesUpToMaxAttemptsThenFails(t *testing.T) {
	var attempts int32
	execs := map[node.Kind]executor.Executor{
		node.KindTool: &fakeExecutor{fn: func(context.Context, node.Spec, *execctx.Context) (map[string]any, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, ice.New(ice.KindToolExecution, "transient")
		}},
	}
	s := New(execs, nil)

	a := node.Spec{ID: "a", Kind: node.KindTool, RetryPolicy: &node.RetryPolicy{MaxAttempts: 3, BaseDelayMs: 1, MaxDelayMs: 2}}
	plan := newPlan([][]node.Spec{{a}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusFailed, results["a"].Status)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	require.Equal(t, 3, results["a"].Attempt)
}

func TestScheduler_RetriesSucceedOnLaterAttempt(t *testing.T) {
	var attempts int32
	execs := map[node.Kind]executor.Executor{
		node.KindTool: &fakeExecutor{fn: func(context.Context, node.Spec, *execctx.Context) (map[string]any, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 2 {
				return nil, ice.New(ice.KindToolExecution, "transient")
			}
			return map[string]any{"ok": true}, nil
		}},
	}
	s := New(execs, nil)

	a := node.Spec{ID: "a", Kind: node.KindTool, RetryPolicy: &node.RetryPolicy{MaxAttempts: 5, BaseDelayMs: 1, MaxDelayMs: 2}}
	plan := newPlan([][]node.Spec{{a}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusSucceeded, results["a"].Status)
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestScheduler_MissingExecutorFailsNode(t *testing.T) {
	s := New(map[node.Kind]executor.Executor{}, nil)

	a := node.Spec{ID: "a", Kind: node.KindTool}
	plan := newPlan([][]node.Spec{{a}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusFailed, results["a"].Status)
	require.Equal(t, ice.KindInternal, ice.KindOf(results["a"].Err))
}

func TestScheduler_PanicInExecutorIsRecoveredAsFailure(t *testing.T) {
	execs := map[node.Kind]executor.Executor{
		node.KindTool: &fakeExecutor{fn: func(context.Context, node.Spec, *execctx.Context) (map[string]any, error) {
			panic("kaboom")
		}},
	}
	s := New(execs, nil)

	a := node.Spec{ID: "a", Kind: node.KindTool}
	plan := newPlan([][]node.Spec{{a}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusFailed, results["a"].Status)
}

func TestScheduler_TimeoutExceededReturnsTimeoutKind(t *testing.T) {
	execs := map[node.Kind]executor.Executor{
		node.KindTool: &fakeExecutor{fn: func(ctx context.Context, _ node.Spec, _ *execctx.Context) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	}
	s := New(execs, nil)

	a := node.Spec{ID: "a", Kind: node.KindTool, TimeoutMs: 10}
	plan := newPlan([][]node.Spec{{a}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusFailed, results["a"].Status)
	require.Equal(t, ice.KindTimeout, ice.KindOf(results["a"].Err))
}

func TestScheduler_CancelledContextMarksRemainingLevelsCancelled(t *testing.T) {
	var once sync.Once
	ctx, cancel := context.WithCancel(context.Background())
	execs := map[node.Kind]executor.Executor{
		node.KindTool: &fakeExecutor{fn: func(context.Context, node.Spec, *execctx.Context) (map[string]any, error) {
			once.Do(cancel)
			return map[string]any{}, nil
		}},
	}
	s := New(execs, nil)

	a := node.Spec{ID: "a", Kind: node.KindTool}
	b := node.Spec{ID: "b", Kind: node.KindTool}
	plan := newPlan([][]node.Spec{{a}, {b}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(ctx, ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusCancelled, results["b"].Status)
}

func TestScheduler_WhenFalseSkipsNodeAndCascades(t *testing.T) {
	execs := map[node.Kind]executor.Executor{
		node.KindCondition: succeeding(map[string]any{"branch": "true"}),
		node.KindTool:       succeeding(map[string]any{"ok": true}),
	}
	s := New(execs, nil)

	gate := node.Spec{ID: "gate", Kind: node.KindCondition}
	yes := node.Spec{ID: "yes", Kind: node.KindTool, DependsOn: []ice.NodeID{"gate"}, When: `nodes.gate.branch == "true"`}
	no := node.Spec{ID: "no", Kind: node.KindTool, DependsOn: []ice.NodeID{"gate"}, When: `nodes.gate.branch == "false"`}
	plan := newPlan([][]node.Spec{{gate}, {yes, no}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusSucceeded, results["yes"].Status)
	require.Equal(t, node.StatusSkipped, results["no"].Status)
}

func TestScheduler_WhenCascadesSkipToDownstreamDependents(t *testing.T) {
	execs := map[node.Kind]executor.Executor{
		node.KindCondition: succeeding(map[string]any{"branch": "true"}),
		node.KindTool:       succeeding(map[string]any{"ok": true}),
	}
	s := New(execs, nil)

	gate := node.Spec{ID: "gate", Kind: node.KindCondition}
	no := node.Spec{ID: "no", Kind: node.KindTool, DependsOn: []ice.NodeID{"gate"}, When: `nodes.gate.branch == "false"`}
	downstream := node.Spec{ID: "downstream", Kind: node.KindTool, DependsOn: []ice.NodeID{"no"}}
	plan := newPlan([][]node.Spec{{gate}, {no}, {downstream}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusSkipped, results["no"].Status)
	require.Equal(t, node.StatusSkipped, results["downstream"].Status)
}

func TestScheduler_WhenInvalidExpressionFailsNode(t *testing.T) {
	execs := map[node.Kind]executor.Executor{node.KindTool: succeeding(map[string]any{})}
	s := New(execs, nil)

	a := node.Spec{ID: "a", Kind: node.KindTool, When: "not an expr((("}
	plan := newPlan([][]node.Spec{{a}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	results, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, node.StatusFailed, results["a"].Status)
	require.Equal(t, ice.KindValidation, ice.KindOf(results["a"].Err))
}

func TestScheduler_BoundsConcurrencyToMaxParallel(t *testing.T) {
	var active, maxActive int32
	execs := map[node.Kind]executor.Executor{
		node.KindTool: &fakeExecutor{fn: func(context.Context, node.Spec, *execctx.Context) (map[string]any, error) {
			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return map[string]any{}, nil
		}},
	}
	s := New(execs, nil)

	level := make([]node.Spec, 10)
	for i := range level {
		level[i] = node.Spec{ID: ice.NodeID(string(rune('a' + i))), Kind: node.KindTool}
	}
	plan := newPlan([][]node.Spec{level}, 2)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	_, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(2))
}

func TestScheduler_EmitsEventsToBus(t *testing.T) {
	execs := map[node.Kind]executor.Executor{node.KindTool: succeeding(map[string]any{})}
	bus := eventbus.New(ice.SystemClock)
	s := New(execs, bus)

	runID := ice.NewRunID()
	a := node.Spec{ID: "a", Kind: node.KindTool}
	plan := newPlan([][]node.Spec{{a}}, 4)
	ectx := execctx.New(runID, nil, nil)

	_, err := s.Run(context.Background(), runID, plan, ectx)
	require.NoError(t, err)

	records := bus.Since(0)
	require.NotEmpty(t, records)

	var sawStarted, sawFinished bool
	for _, r := range records {
		switch r.Kind {
		case "node.started":
			sawStarted = true
		case "node.finished":
			sawFinished = true
		}
	}
	require.True(t, sawStarted)
	require.True(t, sawFinished)
}

func TestScheduler_EmitsRetryEventBetweenAttempts(t *testing.T) {
	var attempts int32
	execs := map[node.Kind]executor.Executor{
		node.KindTool: &fakeExecutor{fn: func(context.Context, node.Spec, *execctx.Context) (map[string]any, error) {
			n := atomic.AddInt32(&attempts, 1)
			if n < 2 {
				return nil, ice.New(ice.KindToolExecution, "transient")
			}
			return map[string]any{}, nil
		}},
	}
	bus := eventbus.New(ice.SystemClock)
	s := New(execs, bus)

	runID := ice.NewRunID()
	a := node.Spec{ID: "a", Kind: node.KindTool, RetryPolicy: &node.RetryPolicy{MaxAttempts: 3, BaseDelayMs: 1, MaxDelayMs: 2}}
	plan := newPlan([][]node.Spec{{a}}, 4)
	ectx := execctx.New(runID, nil, nil)

	_, err := s.Run(context.Background(), runID, plan, ectx)
	require.NoError(t, err)

	var retries int
	for _, r := range bus.Since(0) {
		if r.Kind == "node.retry" {
			retries++
		}
	}
	require.Equal(t, 1, retries)
}

func TestScheduler_SnapshotReflectsLevelCount(t *testing.T) {
	execs := map[node.Kind]executor.Executor{node.KindTool: succeeding(map[string]any{})}
	s := New(execs, nil)

	a := node.Spec{ID: "a", Kind: node.KindTool}
	plan := newPlan([][]node.Spec{{a}, {a}}, 4)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	_, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)
	require.Equal(t, 2, s.Snapshot().LevelCount)
}

func TestScheduler_WrapsEachAttemptInASpan(t *testing.T) {
	tracer := &recordingTracer{}
	execs := map[node.Kind]executor.Executor{node.KindTool: succeeding(map[string]any{})}
	s := New(execs, nil)
	s.Tracer = tracer

	a := node.Spec{ID: "a", Kind: node.KindTool}
	plan := newPlan([][]node.Spec{{a}}, 1)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	_, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	require.Equal(t, []string{"scheduler.node.execute"}, tracer.names)
	require.Zero(t, tracer.errs)
}

func TestScheduler_RecordsErrorOnFailedAttemptSpan(t *testing.T) {
	tracer := &recordingTracer{}
	execs := map[node.Kind]executor.Executor{node.KindTool: failingAlways(ice.New(ice.KindToolExecution, "boom"))}
	s := New(execs, nil)
	s.Tracer = tracer

	a := node.Spec{ID: "a", Kind: node.KindTool}
	plan := newPlan([][]node.Spec{{a}}, 1)
	ectx := execctx.New(ice.NewRunID(), nil, nil)

	_, err := s.Run(context.Background(), ice.NewRunID(), plan, ectx)
	require.NoError(t, err)

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	require.Equal(t, 1, tracer.errs)
}
