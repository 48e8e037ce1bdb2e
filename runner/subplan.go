package runner

import (
	"context"

	"github.com/iceos/core/blueprint/store"
	"github.com/iceos/core/compiler"
	"github.com/iceos/core/execctx"
	"github.com/iceos/core/eventbus"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
	"github.com/iceos/core/scheduler"
)

// SubPlanExecutor implements executor.SubPlanRunner so the workflow, loop,
// parallel, and recursive executors can invoke nested node lists or whole
// Blueprints without importing the scheduler/runner packages themselves
// (which would create an import cycle, since scheduler dispatches to
// executor in the first place).
type SubPlanExecutor struct {
	Blueprints   store.BlueprintStore
	Controller   *Controller
	NewScheduler func(bus *eventbus.Bus) *scheduler.Scheduler
}

// RunBlueprint loads and submits another Blueprint as a nested, synchronous
// sub-run sharing this process (spec.md §5: a single process owns a run
// end-to-end).
func (s *SubPlanExecutor) RunBlueprint(ctx context.Context, id ice.BlueprintID, input map[string]any) (map[string]any, error) {
	bp, err := s.Blueprints.Get(ctx, id)
	if err != nil {
		return nil, ice.Wrap(ice.KindNotFound, err, "sub-run: blueprint %s", id)
	}
	rec, err := s.Controller.Submit(ctx, bp, input, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(rec.Results))
	for id, r := range rec.Results {
		out[string(id)] = r.Output
	}
	return out, nil
}

// RunNodes dispatches an ad hoc node list (a loop/parallel/recursive body,
// not itself a named Blueprint) through a fresh single-level-per-dependency
// Scheduler pass, writing results into ectx.
func (s *SubPlanExecutor) RunNodes(ctx context.Context, nodes []node.Spec, ectx *execctx.Context) error {
	levels, err := compiler.LayerNodes(nodes)
	if err != nil {
		return ice.Wrap(ice.KindValidation, err, "sub-run: layering body nodes")
	}

	byID := make(map[ice.NodeID]node.Spec, len(nodes))
	dependents := make(map[ice.NodeID][]ice.NodeID)
	for _, n := range nodes {
		byID[n.ID] = n
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	bus := eventbus.New(nil)
	sched := s.NewScheduler(bus)
	plan := &compiler.Plan{
		Levels:      levels,
		NodesByID:   byID,
		Dependents:  dependents,
		MaxParallel: 8,
	}

	results, err := sched.Run(ctx, ectx.RunID(), plan, ectx)
	if err != nil {
		return err
	}
	for id, r := range results {
		if r.Status == node.StatusFailed {
			return r.Err
		}
		ectx.SetOutput(id, r.Output)
	}
	return nil
}
