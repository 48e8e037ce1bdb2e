package executor

import (
	"context"
	"encoding/json"

	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
)

// LoopExecutor runs KindLoop nodes: body_nodes once per element of the
// resolved items binding, up to max_iterations. Each iteration's body runs
// through the same SubPlanRunner the workflow/recursive executors use, so
// the scheduler's retry/skip/timeout machinery applies uniformly inside a
// loop body. The node's own continue_on_error (node.Spec.ContinueOnError)
// governs iteration failures: when set, a failed iteration's slot records
// its error instead of aborting the loop, per spec.md §4.5.5's partial-
// failure shape.
type LoopExecutor struct {
	Deps Dependencies
}

func (e *LoopExecutor) Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error) {
	var payload node.LoopPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "loop node %s: decoding payload", n.ID)
	}

	itemsAny, err := ectx.Resolve(payload.Items)
	if err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "loop node %s: resolving items", n.ID).WithNode(n.ID)
	}
	items, ok := itemsAny.([]any)
	if !ok {
		return nil, ice.New(ice.KindValidation, "loop node %s: items binding %q did not resolve to an array", n.ID, payload.Items).WithNode(n.ID)
	}

	maxIter := payload.MaxIterations
	if maxIter <= 0 || maxIter > len(items) {
		maxIter = len(items)
	}

	results := make([]map[string]any, 0, maxIter)
	for i := 0; i < maxIter; i++ {
		iterCtx := execctx.New(ectx.RunID(), map[string]any{"item": items[i], "index": i}, nil)
		if err := e.Deps.SubPlans.RunNodes(ctx, payload.BodyNodes, iterCtx); err != nil {
			if !n.ContinueOnError {
				return nil, ice.Wrap(ice.KindOf(err), err, "loop node %s: iteration %d", n.ID, i).WithNode(n.ID)
			}
			results = append(results, map[string]any{"status": "failed", "index": i, "error": errorDetail(err)})
			continue
		}
		results = append(results, map[string]any{"status": "succeeded", "index": i, "output": iterCtx.AllOutputsFlat()})
	}

	return map[string]any{"iterations": results, "count": len(results)}, nil
}
