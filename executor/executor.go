// Package executor implements the nine node-kind executors. Each kind gets
// its own type implementing Executor; the Dependencies struct (spec.md
// Design Notes §9) is threaded into every constructor explicitly instead of
// being reached for through a package-level service locator, the way the
// teacher's runtime/agent/engine wires Registry/telemetry/provider handles
// into WorkflowContext at construction time.
package executor

import (
	"context"

	"github.com/iceos/core/execctx"
	"github.com/iceos/core/eventbus"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/llmprovider"
	"github.com/iceos/core/node"
	"github.com/iceos/core/registry"
	"github.com/iceos/core/telemetry"
)

// SandboxRunner executes a code node's source in an isolated interpreter.
type SandboxRunner interface {
	Run(ctx context.Context, source string, inputs map[string]any, cpuMs, memMB int) (map[string]any, error)
}

// SubPlanRunner invokes another Blueprint as a sub-run (used by the
// workflow and recursive executors) without those executors importing the
// scheduler package directly, avoiding an import cycle.
type SubPlanRunner interface {
	RunBlueprint(ctx context.Context, id ice.BlueprintID, input map[string]any) (map[string]any, error)
	RunNodes(ctx context.Context, nodes []node.Spec, ectx *execctx.Context) error
}

// Dependencies bundles every collaborator a node executor might need. A
// given executor only reaches for the fields relevant to its kind.
type Dependencies struct {
	Registry  *registry.Registry
	Bus       *eventbus.Bus
	Providers llmprovider.Factory
	Sandbox   SandboxRunner
	SubPlans  SubPlanRunner
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics

	// CostRates prices a provider/model pair in USD per token, the same
	// table runner.Controller uses for pre-flight budget estimation
	// (runner.BudgetTable.Rate). LLMExecutor uses it to post actual cost to
	// execctx.Context.AddCost after a completion succeeds. Nil means no
	// cost tracking (every completion adds $0).
	CostRates func(provider, model string) float64
}

// Executor runs one attempt of a node. Retries are the scheduler's: it
// re-invokes Execute under the node's retry_policy for any returned error
// (unless the node's context has ended), with its own backoff timing.
type Executor interface {
	Execute(ctx context.Context, n node.Spec, ectx *execctx.Context) (map[string]any, error)
}

// errorDetail renders err as the structured {kind, message} shape spec.md
// uses for a failed slot inside a parallel/loop partial result, so a caller
// doesn't need to unwrap an *ice.Error to see why a branch or iteration
// failed.
func errorDetail(err error) map[string]any {
	return map[string]any{"kind": string(ice.KindOf(err)), "message": err.Error()}
}

// ForKind returns the Executor responsible for n.Kind.
func ForKind(deps Dependencies) map[node.Kind]Executor {
	return map[node.Kind]Executor{
		node.KindTool:      &ToolExecutor{Deps: deps},
		node.KindLLM:       &LLMExecutor{Deps: deps},
		node.KindAgent:     &AgentExecutor{Deps: deps},
		node.KindCondition: &ConditionExecutor{Deps: deps},
		node.KindLoop:      &LoopExecutor{Deps: deps},
		node.KindParallel:  &ParallelExecutor{Deps: deps},
		node.KindRecursive: &RecursiveExecutor{Deps: deps},
		node.KindWorkflow:  &WorkflowExecutor{Deps: deps},
		node.KindCode:      &CodeExecutor{Deps: deps},
	}
}
