// Package scheduler dispatches a compiled Plan level by level, bounding
// concurrency within a level to max_parallel, retrying transient node
// failures with exponential-jitter backoff, and cascading skip status to
// downstream nodes of a failed dependency. Level-barrier dispatch and the
// bounded worker semaphore are grounded on
// other_examples/...dag_scheduler.go's DAGScheduler.Run (semaphore pool,
// panic recovery, cascadeSkip BFS) combined with
// dshills-langgraph-go/graph/scheduler.go's Frontier/SchedulerMetrics
// shape and graph/policy.go's jittered backoff formula.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/iceos/core/compiler"
	"github.com/iceos/core/condition"
	"github.com/iceos/core/execctx"
	"github.com/iceos/core/eventbus"
	"github.com/iceos/core/executor"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
	"github.com/iceos/core/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Metrics is a point-in-time snapshot returned by Snapshot. Neither the
// HTTP transport nor the telemetry gauges read it.
type Metrics struct {
	LevelIndex      int
	LevelCount      int
	DispatchedTotal int
	ActiveNodes     int
}

// Scheduler dispatches one Plan's levels against a fixed set of executors.
type Scheduler struct {
	Executors map[node.Kind]executor.Executor
	Bus       *eventbus.Bus

	// Tracer wraps each node attempt in a span, grounded on the teacher's
	// toolregistry.Executor.Execute (runtime/toolregistry/executor/executor.go),
	// which does the same around its own per-tool-call dispatch. Defaults to
	// a noop tracer when unset so callers that don't care about tracing
	// don't have to construct one.
	Tracer telemetry.Tracer

	mu      sync.Mutex
	metrics Metrics
}

func New(executors map[node.Kind]executor.Executor, bus *eventbus.Bus) *Scheduler {
	return &Scheduler{Executors: executors, Bus: bus, Tracer: telemetry.NoopTracer{}}
}

// Run dispatches every level of plan in order, writing each node's output
// into ectx and returning every node's terminal Result. The returned error
// is always nil: a context cancelled between levels marks every node not
// yet run as cancelled, and individual node failures are represented as
// node.Result entries, so a partial-failure run still reports a
// complete Results map per spec.md §4.4's continue_on_error semantics. A
// node whose When expression evaluates false (checked against ectx.Env()
// before dispatch) is marked skipped and cascades skip to its dependents,
// exactly as a failed upstream node does.
func (s *Scheduler) Run(ctx context.Context, runID ice.RunID, plan *compiler.Plan, ectx *execctx.Context) (map[ice.NodeID]node.Result, error) {
	results := make(map[ice.NodeID]node.Result, len(plan.NodesByID))
	skipped := make(map[ice.NodeID]bool)

	s.mu.Lock()
	s.metrics = Metrics{LevelCount: len(plan.Levels)}
	s.mu.Unlock()

	sem := make(chan struct{}, plan.MaxParallel)

	for levelIdx, level := range plan.Levels {
		s.mu.Lock()
		s.metrics.LevelIndex = levelIdx
		s.mu.Unlock()

		if err := ctx.Err(); err != nil {
			s.markRemainingCancelled(plan, levelIdx, results)
			return results, nil
		}

		var wg sync.WaitGroup
		var mu sync.Mutex

		for _, n := range level {
			if skipped[n.ID] {
				mu.Lock()
				results[n.ID] = node.Result{NodeID: n.ID, Status: node.StatusSkipped}
				mu.Unlock()
				s.cascadeSkip(plan, n.ID, skipped)
				continue
			}

			if n.When != "" {
				taken, err := condition.EvalOnce(n.When, ectx.Env())
				if err != nil {
					mu.Lock()
					results[n.ID] = node.Result{NodeID: n.ID, Status: node.StatusFailed, Err: ice.Wrap(ice.KindValidation, err, "node %s: evaluating when", n.ID).WithNode(n.ID)}
					mu.Unlock()
					s.cascadeSkip(plan, n.ID, skipped)
					continue
				}
				if !taken {
					mu.Lock()
					results[n.ID] = node.Result{NodeID: n.ID, Status: node.StatusSkipped}
					mu.Unlock()
					skipped[n.ID] = true
					s.cascadeSkip(plan, n.ID, skipped)
					continue
				}
			}

			wg.Add(1)
			sem <- struct{}{}
			s.mu.Lock()
			s.metrics.ActiveNodes++
			s.metrics.DispatchedTotal++
			s.mu.Unlock()

			go func(n node.Spec) {
				defer wg.Done()
				defer func() { <-sem }()
				defer func() {
					s.mu.Lock()
					s.metrics.ActiveNodes--
					s.mu.Unlock()
				}()

				result := s.runNodeWithRetry(ctx, runID, n, ectx)

				mu.Lock()
				results[n.ID] = result
				mu.Unlock()

				if result.Status == node.StatusSucceeded {
					ectx.SetOutput(n.ID, result.Output)
				} else if result.Status == node.StatusFailed && !n.ContinueOnError {
					s.cascadeSkip(plan, n.ID, skipped)
				}
			}(n)
		}
		wg.Wait()
	}

	return results, nil
}

func (s *Scheduler) markRemainingCancelled(plan *compiler.Plan, fromLevel int, results map[ice.NodeID]node.Result) {
	for _, level := range plan.Levels[fromLevel:] {
		for _, n := range level {
			if _, done := results[n.ID]; !done {
				results[n.ID] = node.Result{NodeID: n.ID, Status: node.StatusCancelled}
			}
		}
	}
}

// cascadeSkip marks every node transitively downstream of failedID as
// skipped, BFS over the Dependents index, exactly as the reference
// DAGScheduler.cascadeSkip does.
func (s *Scheduler) cascadeSkip(plan *compiler.Plan, failedID ice.NodeID, skipped map[ice.NodeID]bool) {
	queue := []ice.NodeID{failedID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range plan.Dependents[cur] {
			if !skipped[dep] {
				skipped[dep] = true
				queue = append(queue, dep)
			}
		}
	}
}

func (s *Scheduler) runNodeWithRetry(ctx context.Context, runID ice.RunID, n node.Spec, ectx *execctx.Context) node.Result {
	exec, ok := s.Executors[n.Kind]
	if !ok {
		return node.Result{NodeID: n.ID, Status: node.StatusFailed, Err: ice.New(ice.KindInternal, "no executor registered for kind %q", n.Kind).WithNode(n.ID)}
	}

	maxAttempts := 1
	baseDelay := 100 * time.Millisecond
	maxDelay := 10 * time.Second
	if n.RetryPolicy != nil {
		if n.RetryPolicy.MaxAttempts > 0 {
			maxAttempts = n.RetryPolicy.MaxAttempts
		}
		if n.RetryPolicy.BaseDelayMs > 0 {
			baseDelay = time.Duration(n.RetryPolicy.BaseDelayMs) * time.Millisecond
		}
		if n.RetryPolicy.MaxDelayMs > 0 {
			maxDelay = time.Duration(n.RetryPolicy.MaxDelayMs) * time.Millisecond
		}
	}

	nodeCtx := ctx
	var cancel context.CancelFunc
	if n.TimeoutMs > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, time.Duration(n.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	// bo computes jittered exponential delays through cenkalti/backoff/v4:
	// the interval starts at baseDelay, doubles per retry up to maxDelay,
	// and each delay is drawn uniformly from [0, 2×interval]
	// (RandomizationFactor 1.0), so this package does no backoff math.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay
	bo.MaxInterval = maxDelay
	bo.RandomizationFactor = 1.0
	bo.Multiplier = 2.0
	bo.MaxElapsedTime = 0

	var lastErr error
	costBefore := ectx.TotalCost()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.emit(nodeCtx, runID, "node.started", n.ID, map[string]any{"attempt": attempt})

		out, err := s.tracedExecute(nodeCtx, exec, n, ectx, attempt)
		if err == nil {
			s.emit(nodeCtx, runID, "node.finished", n.ID, map[string]any{"attempt": attempt, "success": true})
			return node.Result{NodeID: n.ID, Status: node.StatusSucceeded, Output: out, Attempt: attempt, Cost: ectx.TotalCost() - costBefore}
		}
		lastErr = err

		if nodeCtx.Err() != nil {
			kind := ice.KindCancelled
			if nodeCtx.Err() == context.DeadlineExceeded {
				kind = ice.KindTimeout
			}
			s.emit(nodeCtx, runID, "node.failed", n.ID, map[string]any{"attempt": attempt, "error": err.Error()})
			return node.Result{NodeID: n.ID, Status: node.StatusFailed, Err: ice.Wrap(kind, err, "node %s", n.ID).WithNode(n.ID), Attempt: attempt}
		}

		if attempt < maxAttempts {
			s.emit(nodeCtx, runID, "node.retry", n.ID, map[string]any{"attempt": attempt, "error": err.Error()})
			delay := bo.NextBackOff()
			select {
			case <-time.After(delay):
			case <-nodeCtx.Done():
			}
		}
	}

	s.emit(nodeCtx, runID, "node.failed", n.ID, map[string]any{"attempts": maxAttempts, "error": lastErr.Error()})
	return node.Result{
		NodeID:  n.ID,
		Status:  node.StatusFailed,
		Err:     ice.Wrap(ice.KindOf(lastErr), lastErr, "node %s: exhausted %d attempt(s)", n.ID, maxAttempts).WithNode(n.ID),
		Attempt: maxAttempts,
	}
}

// tracedExecute wraps one attempt of node.Execute in a span, the way the
// teacher's toolregistry.Executor.Execute wraps its own per-tool-call
// dispatch in "toolregistry.execute".
func (s *Scheduler) tracedExecute(ctx context.Context, exec executor.Executor, n node.Spec, ectx *execctx.Context, attempt int) (map[string]any, error) {
	tracer := s.Tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	ctx, span := tracer.Start(ctx, "scheduler.node.execute", trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("node.id", string(n.ID)),
			attribute.String("node.kind", string(n.Kind)),
			attribute.Int("node.attempt", attempt),
		),
	)
	defer span.End()

	out, err := s.safeExecute(ctx, exec, n, ectx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return out, err
}

func (s *Scheduler) safeExecute(ctx context.Context, exec executor.Executor, n node.Spec, ectx *execctx.Context) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in node %s: %v", n.ID, r)
		}
	}()
	return exec.Execute(ctx, n, ectx)
}

func (s *Scheduler) emit(ctx context.Context, runID ice.RunID, kind string, nodeID ice.NodeID, data map[string]any) {
	if s.Bus == nil {
		return
	}
	_, _ = s.Bus.Append(ctx, kind, runID, nodeID, data)
}

// Snapshot returns the current Metrics.
func (s *Scheduler) Snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}
