// Package runner implements the Run Controller: submit a Blueprint for
// execution, track its status, cancel it, and replay its event stream.
// Vocabulary (Context/Handle/Record/Store/Status/Phase) is grounded on
// runtime/agent/run/run.go.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/iceos/core/blueprint"
	"github.com/iceos/core/compiler"
	"github.com/iceos/core/execctx"
	"github.com/iceos/core/eventbus"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
	"github.com/iceos/core/scheduler"
)

// Phase is the run's coarse lifecycle stage.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Record is a run's durable snapshot.
type Record struct {
	RunID       ice.RunID
	BlueprintID ice.BlueprintID
	Phase       Phase
	Input       map[string]any
	Results     map[ice.NodeID]node.Result
	StartedAt   time.Time
	EndedAt     time.Time
	Err         *ice.Error

	// CostSoFar is the run's accumulated USD cost (execctx.Context.TotalCost
	// at the moment the run reached a terminal phase), grounded on
	// dshills-langgraph-go/graph/cost.go's CostTracker.GetTotalCost.
	CostSoFar float64
}

// Store persists Run Records. The in-memory implementation lives in this
// package; a Mongo-backed implementation (memory.MongoEpisodic's sibling
// for run snapshots, teacher precedent: features/run/mongo) can be swapped
// in for durability across process restarts.
type Store interface {
	Save(ctx context.Context, r Record) error
	Get(ctx context.Context, id ice.RunID) (Record, error)
}

// InMemoryStore is the default Store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[ice.RunID]Record
}

func NewInMemoryStore() *InMemoryStore { return &InMemoryStore{data: make(map[ice.RunID]Record)} }

func (s *InMemoryStore) Save(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[r.RunID] = r
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id ice.RunID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[id]
	if !ok {
		return Record{}, fmt.Errorf("runner: no run %s", id)
	}
	return r, nil
}

// BudgetTable looks up a per-call cost estimate for an llm node given its
// provider/model pair.
type BudgetTable map[string]float64

func (t BudgetTable) Rate(provider, model string) float64 {
	if r, ok := t[provider+"/"+model]; ok {
		return r
	}
	return 0
}

// Controller is the Run Controller.
type Controller struct {
	Compiler *compiler.Compiler
	Runs     Store
	MaxBudgetUSD float64
	Budget       BudgetTable
	Clock        ice.Clock

	// MemoryFactory builds the default per-run memory handles (Context
	// Manager §4.6: "the Run Controller wires concrete backends... per
	// run"). Submit falls back to this when its own memFactory argument is
	// nil, so callers that don't care about per-run overrides (every
	// current caller) still get working agent memory instead of silently
	// getting none.
	MemoryFactory execctx.MemoryFactory

	mu       sync.Mutex
	cancels  map[ice.RunID]context.CancelFunc
	buses    map[ice.RunID]*eventbus.Bus

	// newScheduler builds a fresh Scheduler + executor set per run; kept as
	// a field (not a method closing over package state) so tests can supply
	// a stub.
	newScheduler func(bus *eventbus.Bus) *scheduler.Scheduler
}

func New(c *compiler.Compiler, runs Store, maxBudgetUSD float64, newScheduler func(bus *eventbus.Bus) *scheduler.Scheduler) *Controller {
	return &Controller{
		Compiler:     c,
		Runs:         runs,
		MaxBudgetUSD: maxBudgetUSD,
		Clock:        ice.SystemClock,
		cancels:      make(map[ice.RunID]context.CancelFunc),
		buses:        make(map[ice.RunID]*eventbus.Bus),
		newScheduler: newScheduler,
	}
}

// Submit validates+compiles bp, then runs it to completion synchronously.
// A caller that wants "fire and forget" should call this from its own
// goroutine; the Run Controller itself does not assume an async transport.
func (c *Controller) Submit(ctx context.Context, bp blueprint.Blueprint, input map[string]any, memFactory execctx.MemoryFactory) (Record, error) {
	plan, report := c.Compiler.Compile(ctx, bp)
	if !report.OK() {
		return Record{}, ice.New(ice.KindValidation, "blueprint %s failed validation: %d offense(s)", bp.ID, len(report.Offenses))
	}

	if est := estimateBudget(plan, c.Budget); c.MaxBudgetUSD > 0 && est > c.MaxBudgetUSD {
		return Record{}, ice.New(ice.KindBudgetExceeded, "blueprint %s estimated cost %.4f exceeds max_budget_usd %.4f", bp.ID, est, c.MaxBudgetUSD)
	}

	runID := ice.NewRunID()
	runCtx, cancel := context.WithCancel(ctx)

	bus := eventbus.New(c.Clock)
	c.mu.Lock()
	c.cancels[runID] = cancel
	c.buses[runID] = bus
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, runID)
		c.mu.Unlock()
	}()

	rec := Record{RunID: runID, BlueprintID: bp.ID, Phase: PhaseRunning, Input: input, StartedAt: c.Clock.Now()}
	_ = c.Runs.Save(ctx, rec)

	sched := c.newScheduler(bus)
	if memFactory == nil {
		memFactory = c.MemoryFactory
	}
	ectx := execctx.New(runID, input, memFactory)

	_, _ = bus.Append(runCtx, "run.started", runID, "", map[string]any{"blueprint_id": string(bp.ID)})
	results, err := sched.Run(runCtx, runID, plan, ectx)
	rec.Results = results
	rec.EndedAt = c.Clock.Now()
	rec.CostSoFar = ectx.TotalCost()

	switch {
	case runCtx.Err() != nil:
		rec.Phase = PhaseCancelled
	case err != nil || hasFailure(results):
		rec.Phase = PhaseFailed
		if err != nil {
			rec.Err = ice.Wrap(ice.KindOf(err), err, "run %s", runID)
		}
	default:
		rec.Phase = PhaseSucceeded
	}

	_, _ = bus.Append(ctx, "run.finished", runID, "", map[string]any{
		"phase":   string(rec.Phase),
		"success": rec.Phase == PhaseSucceeded,
		"cost":    rec.CostSoFar,
	})
	_ = c.Runs.Save(ctx, rec)
	return rec, nil
}

func hasFailure(results map[ice.NodeID]node.Result) bool {
	for _, r := range results {
		if r.Status == node.StatusFailed {
			return true
		}
	}
	return false
}

func estimateBudget(plan *compiler.Plan, table BudgetTable) float64 {
	var total float64
	for _, n := range plan.NodesByID {
		total += n.CostEstimate
		if n.Kind == node.KindLLM && n.MaxTokens > 0 {
			var payload node.LLMPayload
			if err := json.Unmarshal(n.Payload, &payload); err == nil {
				total += float64(n.MaxTokens) * table.Rate(payload.Provider, payload.Model)
			}
		}
	}
	return total
}

// Cancel requests cooperative cancellation of an in-flight run.
func (c *Controller) Cancel(id ice.RunID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.cancels[id]
	if !ok {
		return ice.New(ice.KindNotFound, "no in-flight run %s", id)
	}
	cancel()
	return nil
}

// Status returns the current Record for a run.
func (c *Controller) Status(ctx context.Context, id ice.RunID) (Record, error) {
	rec, err := c.Runs.Get(ctx, id)
	if err != nil {
		return Record{}, ice.Wrap(ice.KindNotFound, err, "run %s", id)
	}
	return rec, nil
}

// Events returns every recorded event for id since sinceSeq.
func (c *Controller) Events(id ice.RunID, sinceSeq uint64) []eventbus.Record {
	c.mu.Lock()
	bus, ok := c.buses[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return bus.Since(sinceSeq)
}
