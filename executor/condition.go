package executor

import (
	"context"
	"encoding/json"

	"github.com/iceos/core/condition"
	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
)

// ConditionExecutor evaluates a boolean expression against the run's
// recorded outputs/input and reports which branch was taken. The scheduler
// does not read then_nodes/else_nodes; downstream nodes gate themselves on
// this node's output through their own When expression. The executor
// itself does no dispatching.
type ConditionExecutor struct {
	Deps Dependencies
}

func (e *ConditionExecutor) Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error) {
	var payload node.ConditionPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "condition node %s: decoding payload", n.ID)
	}

	result, err := condition.EvalOnce(payload.Expression, ectx.Env())
	if err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "condition node %s", n.ID).WithNode(n.ID)
	}

	taken := payload.ElseNodes
	branch := "false"
	if result {
		taken = payload.ThenNodes
		branch = "true"
	}
	out := map[string]any{"result": result, "branch": branch, "branch_nodes": taken}
	return out, nil
}
