package executor

import (
	"context"
	"encoding/json"

	"github.com/iceos/core/condition"
	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
)

// RecursiveExecutor runs KindRecursive nodes. The outer Plan's layering
// collapses a recursive node's body into a synthetic single node (spec.md
// §4.3); this executor is what actually expands that body, iterating it
// against the convergence expression until it evaluates true or max_depth
// is reached. Reported as ice.KindNonConvergent if neither happens.
type RecursiveExecutor struct {
	Deps Dependencies
}

func (e *RecursiveExecutor) Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error) {
	var payload node.RecursivePayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "recursive node %s: decoding payload", n.ID)
	}

	if payload.MaxDepth == 0 {
		return nil, ice.New(ice.KindNonConvergent, "recursive node %s: max_depth=0", n.ID).WithNode(n.ID)
	}
	maxDepth := payload.MaxDepth
	if maxDepth < 0 {
		maxDepth = 25
	}

	iterCtx := execctx.New(ectx.RunID(), ectx.Input(), nil)
	var lastOutput map[string]any

	for depth := 0; depth < maxDepth; depth++ {
		if err := e.Deps.SubPlans.RunNodes(ctx, payload.BodyNodes, iterCtx); err != nil {
			return nil, ice.Wrap(ice.KindOf(err), err, "recursive node %s: depth %d", n.ID, depth).WithNode(n.ID)
		}
		lastOutput = iterCtx.AllOutputsFlat()

		env := map[string]any{"input": ectx.Input(), "nodes": iterCtx.AllOutputs(), "depth": depth}
		converged, err := condition.EvalOnce(payload.Convergence, env)
		if err != nil {
			return nil, ice.Wrap(ice.KindValidation, err, "recursive node %s: convergence check", n.ID).WithNode(n.ID)
		}
		if converged {
			return map[string]any{"converged": true, "depth": depth, "output": lastOutput}, nil
		}
	}

	return nil, ice.New(ice.KindNonConvergent, "recursive node %s: did not converge within max_depth=%d", n.ID, maxDepth).WithNode(n.ID)
}
