package executor

import (
	"context"
	"encoding/json"

	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
	"github.com/iceos/core/registry"
)

// WorkflowExecutor runs KindWorkflow nodes: resolve workflow_ref against
// the Registry's workflow namespace to find the target BlueprintID, invoke
// it as a sub-run via SubPlanRunner, and surface its output as this node's
// output. A single process owns a run end-to-end (spec.md §5); the sub-run
// shares the parent's process, it is not dispatched to a remote worker.
type WorkflowExecutor struct {
	Deps Dependencies
}

func (e *WorkflowExecutor) Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error) {
	var payload node.WorkflowPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "workflow node %s: decoding payload", n.ID)
	}

	binding, err := e.Deps.Registry.Resolve(registry.KindWorkflow, payload.WorkflowRef)
	if err != nil {
		return nil, ice.Wrap(ice.KindOf(err), err, "workflow node %s: resolving workflow_ref %q", n.ID, payload.WorkflowRef).WithNode(n.ID)
	}
	bpID, _ := binding.Definition["blueprint_id"].(string)
	if bpID == "" {
		return nil, ice.New(ice.KindRegistryBindingMissing, "workflow node %s: workflow_ref %q has no blueprint_id", n.ID, payload.WorkflowRef).WithNode(n.ID)
	}

	out, err := e.Deps.SubPlans.RunBlueprint(ctx, ice.BlueprintID(bpID), payload.Input)
	if err != nil {
		return nil, ice.Wrap(ice.KindOf(err), err, "workflow node %s: sub-run %s", n.ID, payload.WorkflowRef).WithNode(n.ID)
	}
	return out, nil
}
