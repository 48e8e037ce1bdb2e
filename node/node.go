// Package node defines the NodeSpec vocabulary shared by the compiler,
// scheduler, and executors: the nine node kinds and their per-kind payload
// shapes.
package node

import (
	"encoding/json"

	"github.com/iceos/core/ice"
)

// Kind enumerates the nine executable node kinds.
type Kind string

const (
	KindTool      Kind = "tool"
	KindLLM       Kind = "llm"
	KindAgent     Kind = "agent"
	KindCondition Kind = "condition"
	KindLoop      Kind = "loop"
	KindParallel  Kind = "parallel"
	KindRecursive Kind = "recursive"
	KindWorkflow  Kind = "workflow"
	KindCode      Kind = "code"
)

// RetryPolicy controls per-node retry behavior on transient failure.
type RetryPolicy struct {
	MaxAttempts int     `json:"max_attempts" yaml:"max_attempts"`
	BaseDelayMs int     `json:"base_delay_ms" yaml:"base_delay_ms"`
	MaxDelayMs  int     `json:"max_delay_ms" yaml:"max_delay_ms"`
}

// Spec is one node in a Blueprint's DAG.
type Spec struct {
	ID              ice.NodeID      `json:"id" yaml:"id"`
	Kind            Kind            `json:"kind" yaml:"kind"`
	DependsOn       []ice.NodeID    `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Binding         ice.BindingName `json:"binding,omitempty" yaml:"binding,omitempty"`
	InputBindings   map[string]string `json:"input_bindings,omitempty" yaml:"input_bindings,omitempty"`
	OutputSchema    json.RawMessage `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Payload         json.RawMessage `json:"payload" yaml:"payload"`
	TimeoutMs       int             `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	RetryPolicy     *RetryPolicy    `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	ContinueOnError bool            `json:"continue_on_error,omitempty" yaml:"continue_on_error,omitempty"`
	CostEstimate    float64         `json:"cost_estimate,omitempty" yaml:"cost_estimate,omitempty"`
	MaxTokens       int             `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// When is a condition-package expression (the same dialect as
	// ConditionPayload.Expression) gating dispatch of this node. The
	// Scheduler evaluates it against execctx.Context.Env() before dispatching
	// each level; a false result marks the node (and everything transitively
	// depending on it) skipped instead of running it.
	When string `json:"when,omitempty" yaml:"when,omitempty"`
}

// ToolPayload is the Payload shape for KindTool.
type ToolPayload struct {
	Args            map[string]any `json:"args"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
}

// LLMPayload is the Payload shape for KindLLM.
type LLMPayload struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
}

// AgentPayload is the Payload shape for KindAgent.
type AgentPayload struct {
	Goal        string   `json:"goal"`
	ToolNames   []string `json:"tool_names,omitempty"`
	MaxTurns    int      `json:"max_turns,omitempty"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
}

// ConditionPayload is the Payload shape for KindCondition.
type ConditionPayload struct {
	Expression string                 `json:"expression"`
	ThenNodes  []ice.NodeID           `json:"then_nodes,omitempty"`
	ElseNodes  []ice.NodeID           `json:"else_nodes,omitempty"`
}

// LoopPayload is the Payload shape for KindLoop.
type LoopPayload struct {
	Items      string       `json:"items"`       // binding expression that resolves to an array
	BodyNodes  []Spec       `json:"body_nodes"`
	MaxIterations int       `json:"max_iterations,omitempty"`
}

// ParallelPayload is the Payload shape for KindParallel. Branches are
// ordered lists of node specs run concurrently; by default any branch
// error fails the whole node. Setting AllowPartial runs every branch to
// completion regardless of individual failures and reports a
// {succeeded, failed} summary instead, identifying each branch by a
// letter name (A, B, C, ...) matching its position in Branches.
type ParallelPayload struct {
	Branches     [][]Spec `json:"branches"`
	AllowPartial bool     `json:"allow_partial,omitempty"`
}

// RecursivePayload is the Payload shape for KindRecursive.
type RecursivePayload struct {
	BodyNodes  []Spec `json:"body_nodes"`
	Convergence string `json:"convergence"` // expr-lang expression
	MaxDepth    int    `json:"max_depth"`
}

// WorkflowPayload is the Payload shape for KindWorkflow: invoke another
// Blueprint, resolved through the Registry by name, as a sub-run.
// WorkflowRef is a registry.KindWorkflow binding name, not a raw
// BlueprintID, so a workflow node compiles the same way a tool or agent
// node does: Validator check 5 resolves it against the Registry before the
// sub-run is ever attempted.
type WorkflowPayload struct {
	WorkflowRef ice.BindingName `json:"workflow_ref"`
	Input       map[string]any  `json:"input,omitempty"`
}

// CodePayload is the Payload shape for KindCode.
type CodePayload struct {
	Source  string         `json:"source"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

// Result is the outcome of executing a single node. Failure is carried as a
// value on Err, never as a panic.
type Result struct {
	NodeID  ice.NodeID     `json:"node_id"`
	Status  Status         `json:"status"`
	Output  map[string]any `json:"output,omitempty"`
	Err     *ice.Error     `json:"error,omitempty"`
	Attempt int            `json:"attempt"`

	// Cost is the USD amount this node's execution added to its run's
	// running total (execctx.Context.AddCost), zero for non-llm nodes.
	Cost float64 `json:"cost,omitempty"`
}

// Status is the terminal (or in-flight) state of a node within a run.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s will never transition again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	default:
		return false
	}
}
