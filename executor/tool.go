package executor

import (
	"context"
	"encoding/json"

	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
	"github.com/iceos/core/registry"
)

// Tool is the contract a registered tool binding's Definition resolves to
// at runtime. The Registry stores the binding metadata (schema, tags); the
// actual callable is looked up by binding name in ToolExecutor.Catalog,
// not derived from the binding's Definition.
type Tool interface {
	Invoke(ctx context.Context, args map[string]any, idempotencyKey string) (map[string]any, error)
}

// ToolExecutor runs KindTool nodes.
type ToolExecutor struct {
	Deps    Dependencies
	Catalog map[ice.BindingName]Tool
}

func (e *ToolExecutor) Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error) {
	var payload node.ToolPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "tool node %s: decoding payload", n.ID)
	}

	if _, err := e.Deps.Registry.Resolve(registry.KindTool, n.Binding); err != nil {
		return nil, ice.Wrap(ice.KindRegistryBindingMissing, err, "tool node %s", n.ID)
	}

	tool, ok := e.Catalog[n.Binding]
	if !ok {
		return nil, ice.New(ice.KindRegistryBindingMissing, "tool node %s: binding %q has no catalog implementation", n.ID, n.Binding)
	}

	out, err := tool.Invoke(ctx, payload.Args, payload.IdempotencyKey)
	if err != nil {
		return nil, ice.Wrap(ice.KindToolExecution, err, "tool node %s", n.ID).WithNode(n.ID)
	}
	return out, nil
}
