package executor

import (
	"context"
	"encoding/json"

	"github.com/iceos/core/execctx"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
)

// CodeExecutor runs KindCode nodes inside Deps.Sandbox, passing CPUMs and
// MemMB to it as caps (sandbox.Runner enforces the CPU budget only).
type CodeExecutor struct {
	Deps   Dependencies
	CPUMs  int
	MemMB  int
}

func (e *CodeExecutor) Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error) {
	var payload node.CodePayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "code node %s: decoding payload", n.ID)
	}

	out, err := e.Deps.Sandbox.Run(ctx, payload.Source, payload.Inputs, e.CPUMs, e.MemMB)
	if err != nil {
		return nil, ice.Wrap(ice.KindOf(err), err, "code node %s", n.ID).WithNode(n.ID)
	}
	return out, nil
}
