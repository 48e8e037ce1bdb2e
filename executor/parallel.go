package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
)

// ParallelExecutor runs KindParallel nodes: every branch's node list runs
// concurrently, each against its own isolated execctx.Context so branches
// cannot observe each other's intermediate outputs (spec.md: branches are
// independent sub-DAGs).
type ParallelExecutor struct {
	Deps Dependencies
}

func (e *ParallelExecutor) Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error) {
	var payload node.ParallelPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "parallel node %s: decoding payload", n.ID)
	}

	if len(payload.Branches) == 0 {
		return map[string]any{"branches": []map[string]any{}}, nil
	}

	results := make([]map[string]any, len(payload.Branches))
	errs := make([]error, len(payload.Branches))

	var wg sync.WaitGroup
	for i, branch := range payload.Branches {
		wg.Add(1)
		go func(i int, branch []node.Spec) {
			defer wg.Done()
			branchCtx := execctx.New(ectx.RunID(), ectx.Input(), nil)
			if err := e.Deps.SubPlans.RunNodes(ctx, branch, branchCtx); err != nil {
				errs[i] = err
				return
			}
			results[i] = branchCtx.AllOutputsFlat()
		}(i, branch)
	}
	wg.Wait()

	if !payload.AllowPartial {
		for i, err := range errs {
			if err != nil {
				return nil, ice.Wrap(ice.KindOf(err), err, "parallel node %s: branch %d", n.ID, i).WithNode(n.ID)
			}
		}
		return map[string]any{"branches": results}, nil
	}

	// allow_partial=true: spec.md §4.5.6's partial-failure shape. Every
	// branch runs to completion regardless of sibling failures; the node
	// itself still succeeds, reporting which branches made it and why the
	// rest didn't.
	succeeded := make([]string, 0, len(payload.Branches))
	failed := make([]map[string]any, 0)
	for i, err := range errs {
		name := branchName(i)
		if err != nil {
			failed = append(failed, map[string]any{"branch": name, "error": errorDetail(err)})
			continue
		}
		succeeded = append(succeeded, name)
	}

	return map[string]any{
		"branches":  results,
		"succeeded": succeeded,
		"failed":    failed,
	}, nil
}

// branchName labels branches A, B, C, ... by position, matching spec.md §8
// scenario 4's {succeeded:["A"], failed:[{branch:"B", ...}]} shape. Branches
// are declared positionally in ParallelPayload, so the letter is derived
// from the index rather than carried as a separate name field.
func branchName(i int) string {
	if i < 26 {
		return string(rune('A' + i))
	}
	return fmt.Sprintf("branch%d", i)
}
