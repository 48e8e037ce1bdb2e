// Package compiler validates a Blueprint against the Registry and compiles
// it into a Plan: a topologically-layered node order the scheduler can
// dispatch level by level. Layering is grounded on
// alexisbeaulieu97-Streamy/internal/engine/dag.go's Kahn's-algorithm
// TopologicalSort (deterministic, cycle-detecting, [][]string levels).
package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/iceos/core/blueprint"
	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
	"github.com/iceos/core/registry"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Offense is one validation failure, precise enough to render as a 400 body.
type Offense struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Report accumulates every Offense found across all checks; Validate never
// stops at the first failure.
type Report struct {
	Offenses []Offense `json:"offenses"`
}

func (r *Report) add(path, kind, format string, args ...any) {
	r.Offenses = append(r.Offenses, Offense{Path: path, Kind: kind, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) OK() bool { return len(r.Offenses) == 0 }

// Plan is the compiled, execution-ready form of a Blueprint: nodes grouped
// into dependency levels, each level dispatchable in parallel once every
// prior level has completed.
type Plan struct {
	BlueprintID     ice.BlueprintID
	Levels          [][]node.Spec
	NodesByID       map[ice.NodeID]node.Spec
	Dependents      map[ice.NodeID][]ice.NodeID
	PlanFingerprint string
	MaxParallel     int
}

// Compiler validates Blueprints against a Registry and compiles them into
// Plans.
type Compiler struct {
	Registry *registry.Registry
}

func New(reg *registry.Registry) *Compiler { return &Compiler{Registry: reg} }

// Validate runs the six structural/semantic checks named in spec.md §4.3:
// (1) every depends_on target exists, (2) the dependency graph (ignoring
// recursive back-edges) is acyclic, (3) every binding resolves in the
// Registry, (4) every node kind's payload is well-formed for that kind,
// (5) input_bindings reference either a prior node's output or a declared
// run input, (6) output_schema (if present) is a compilable JSON Schema.
// The budget ceiling is not checked here; runner.Controller.Submit runs
// that pre-flight on the compiled Plan.
func (c *Compiler) Validate(ctx context.Context, bp blueprint.Blueprint) Report {
	var r Report
	ids := make(map[ice.NodeID]node.Spec, len(bp.Nodes))
	for _, n := range bp.Nodes {
		ids[n.ID] = n
	}

	for i, n := range bp.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		for _, dep := range n.DependsOn {
			if _, ok := ids[dep]; !ok {
				r.add(path+".depends_on", "validation", "node %q depends on unknown node %q", n.ID, dep)
			}
		}
		if n.Binding != "" {
			if _, err := c.Registry.Resolve(kindToRegistryKind(n.Kind), n.Binding); err != nil {
				r.add(path+".binding", "registry_binding_missing", "node %q: %v", n.ID, err)
			}
		}
		if err := validatePayload(n); err != nil {
			r.add(path+".payload", "validation", "node %q: %v", n.ID, err)
		}
		if n.Kind == node.KindWorkflow {
			c.validateWorkflowRef(path, n, &r)
		}
		validateInputBindings(path, n, ids, &r)
		if len(n.OutputSchema) > 0 {
			if _, err := compileSchema(n.OutputSchema); err != nil {
				r.add(path+".output_schema", "validation", "node %q: invalid output_schema: %v", n.ID, err)
			}
		}
	}

	if _, err := layer(bp.Nodes); err != nil {
		r.add("nodes", "validation", "%v", err)
	}
	return r
}

func kindToRegistryKind(k node.Kind) registry.Kind {
	switch k {
	case node.KindAgent:
		return registry.KindAgent
	case node.KindLLM:
		return registry.KindModel
	case node.KindWorkflow:
		return registry.KindWorkflow
	case node.KindCode:
		return registry.KindCode
	default:
		return registry.KindTool
	}
}

// validateWorkflowRef resolves a workflow node's workflow_ref (carried
// inside its payload, not the generic top-level Binding field every other
// kind uses) against the Registry's workflow namespace, so a dangling
// reference is caught here rather than at the executor's RunBlueprint call.
func (c *Compiler) validateWorkflowRef(path string, n node.Spec, r *Report) {
	var payload node.WorkflowPayload
	if err := json.Unmarshal(n.Payload, &payload); err != nil {
		return // already reported by validatePayload
	}
	if payload.WorkflowRef == "" {
		r.add(path+".payload.workflow_ref", "validation", "node %q: workflow node missing workflow_ref", n.ID)
		return
	}
	if _, err := c.Registry.Resolve(registry.KindWorkflow, payload.WorkflowRef); err != nil {
		r.add(path+".payload.workflow_ref", "registry_binding_missing", "node %q: %v", n.ID, err)
	}
}

// validateInputBindings checks every input_bindings entry against the
// $input./$nodes.<id>. addressing convention execctx.Context.Resolve
// understands, confirming a referenced upstream node is both declared and
// actually a dependency, and (where the upstream node declares an
// output_schema) that the referenced field is one the schema declares.
// This is spec.md §4.3 check 4 applied at compile time rather than only
// discovered at runtime when execctx.Resolve fails mid-run.
func validateInputBindings(path string, n node.Spec, ids map[ice.NodeID]node.Spec, r *Report) {
	if len(n.InputBindings) == 0 {
		return
	}
	deps := make(map[ice.NodeID]bool, len(n.DependsOn))
	for _, d := range n.DependsOn {
		deps[d] = true
	}

	fields := make([]string, 0, len(n.InputBindings))
	for field := range n.InputBindings {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		binding := n.InputBindings[field]
		bpath := path + ".input_bindings." + field
		parts := strings.Split(strings.TrimPrefix(binding, "$"), ".")
		switch {
		case len(parts) >= 2 && parts[0] == "input":
			// always valid: resolves against the run's declared input at runtime.
		case len(parts) >= 3 && parts[0] == "nodes":
			refID := ice.NodeID(parts[1])
			upstream, ok := ids[refID]
			if !ok {
				r.add(bpath, "validation", "node %q: input_binding %q references unknown node %q", n.ID, binding, refID)
				continue
			}
			if !deps[refID] {
				r.add(bpath, "validation", "node %q: input_binding %q references node %q which is not in depends_on", n.ID, binding, refID)
				continue
			}
			if len(upstream.OutputSchema) > 0 && !schemaDeclaresField(upstream.OutputSchema, parts[2]) {
				r.add(bpath, "validation", "node %q: input_binding %q references field %q not declared in node %q's output_schema", n.ID, binding, parts[2], refID)
			}
		default:
			r.add(bpath, "validation", "node %q: input_binding %q must start with $input. or $nodes.<id>.", n.ID, binding)
		}
	}
}

// schemaDeclaresField reports whether field appears in raw's top-level
// JSON Schema "properties" object. A schema that isn't an object shape (no
// "properties" key) is permissive by convention: it says nothing about
// named fields, so it cannot rule one out.
func schemaDeclaresField(raw json.RawMessage, field string) bool {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return true // already reported elsewhere as an invalid output_schema
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		return true
	}
	_, declared := props[field]
	return declared
}

func validatePayload(n node.Spec) error {
	switch n.Kind {
	case node.KindTool, node.KindLLM, node.KindAgent, node.KindCondition,
		node.KindLoop, node.KindParallel, node.KindRecursive, node.KindWorkflow, node.KindCode:
		if len(n.Payload) == 0 {
			return fmt.Errorf("missing payload for kind %q", n.Kind)
		}
		var v map[string]any
		return json.Unmarshal(n.Payload, &v)
	default:
		return fmt.Errorf("unknown node kind %q", n.Kind)
	}
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	const uri = "mem://output_schema.json"
	if err := c.AddResource(uri, doc); err != nil {
		return nil, err
	}
	return c.Compile(uri)
}

// Compile validates bp (returning the Report if it is not OK, and a nil Plan)
// and otherwise produces the layered Plan plus its deterministic fingerprint.
func (c *Compiler) Compile(ctx context.Context, bp blueprint.Blueprint) (*Plan, Report) {
	report := c.Validate(ctx, bp)
	if !report.OK() {
		return nil, report
	}

	levels, err := layer(bp.Nodes)
	if err != nil {
		report.add("nodes", "validation", "%v", err)
		return nil, report
	}

	nodesByID := make(map[ice.NodeID]node.Spec, len(bp.Nodes))
	dependents := make(map[ice.NodeID][]ice.NodeID)
	for _, n := range bp.Nodes {
		nodesByID[n.ID] = n
		for _, dep := range n.DependsOn {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	maxParallel := bp.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 8
	}

	plan := &Plan{
		BlueprintID: bp.ID,
		Levels:      levels,
		NodesByID:   nodesByID,
		Dependents:  dependents,
		MaxParallel: maxParallel,
	}
	plan.PlanFingerprint = fingerprint(bp)
	return plan, report
}

// fingerprint hashes the canonical JSON encoding of bp's nodes, producing
// the same value for the same Blueprint + Registry-resolved bindings, as
// required by spec.md §8's round-trip law. Styled on
// dshills-langgraph-go/graph/scheduler.go's ComputeOrderKey: hash
// deterministic inputs, encode as stable hex.
func fingerprint(bp blueprint.Blueprint) string {
	nodes := make([]node.Spec, len(bp.Nodes))
	copy(nodes, bp.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	b, _ := json.Marshal(nodes)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// LayerNodes exposes layer for callers outside this package that need to
// dispatch an ad hoc node list (a loop/parallel/recursive body) without a
// full Blueprint — the runner package's SubPlanExecutor is the only such
// caller today.
func LayerNodes(nodes []node.Spec) ([][]node.Spec, error) {
	return layer(nodes)
}

// layer performs Kahn's algorithm over the dependency graph, returning
// nodes grouped into levels such that every node's dependencies lie in a
// strictly earlier level. Per spec.md §4.3, a recursive node's internal
// back-edges (its own body referencing itself) are not part of this graph;
// the Recursive executor expands its body as its own sub-Plan at run time,
// so layer only ever sees the outer, acyclic depends_on graph.
func layer(nodes []node.Spec) ([][]node.Spec, error) {
	byID := make(map[ice.NodeID]node.Spec, len(nodes))
	inDegree := make(map[ice.NodeID]int, len(nodes))
	dependents := make(map[ice.NodeID][]ice.NodeID)
	for _, n := range nodes {
		byID[n.ID] = n
		if _, ok := inDegree[n.ID]; !ok {
			inDegree[n.ID] = 0
		}
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			inDegree[n.ID]++
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var levels [][]node.Spec
	remaining := len(nodes)
	for remaining > 0 {
		var ready []ice.NodeID
		for id, deg := range inDegree {
			if deg == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("cycle detected among remaining %d node(s)", remaining)
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

		level := make([]node.Spec, 0, len(ready))
		for _, id := range ready {
			level = append(level, byID[id])
			delete(inDegree, id)
			remaining--
		}
		for _, id := range ready {
			for _, dep := range dependents[id] {
				if _, ok := inDegree[dep]; ok {
					inDegree[dep]--
				}
			}
		}
		levels = append(levels, level)
	}
	return levels, nil
}
