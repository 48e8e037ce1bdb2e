// Package execctx is the per-run Context Manager: it holds every node's
// output, resolves input_bindings expressions against them, and lazily
// constructs the four agent memory handles. Each write takes a per-node
// stripe lock and then the map-wide RWMutex for the map update itself, so
// writes for different nodes still serialize briefly on that RWMutex.
package execctx

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/iceos/core/ice"
)

const stripeCount = 32

// Context holds the accumulated outputs of a single run.
type Context struct {
	runID   ice.RunID
	input   map[string]any
	stripes [stripeCount]sync.Mutex
	outputs map[ice.NodeID]map[string]any
	mu      sync.RWMutex // guards the outputs map's own structure (keys), not values

	memOnce   sync.Once
	memFactor MemoryFactory
	mem       any

	costMu sync.Mutex
	cost   float64
}

// MemoryFactory lazily builds the memory handles for a run the first time
// an agent node asks for them.
type MemoryFactory func(runID ice.RunID) any

func New(runID ice.RunID, input map[string]any, memFactory MemoryFactory) *Context {
	return &Context{
		runID:     runID,
		input:     input,
		outputs:   make(map[ice.NodeID]map[string]any),
		memFactor: memFactory,
	}
}

func stripeFor(id ice.NodeID) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % stripeCount)
}

// SetOutput records node id's output. Safe for concurrent callers working
// on different nodes within the same scheduler level.
func (c *Context) SetOutput(id ice.NodeID, output map[string]any) {
	stripe := &c.stripes[stripeFor(id)]
	stripe.Lock()
	defer stripe.Unlock()

	c.mu.Lock()
	c.outputs[id] = output
	c.mu.Unlock()
}

// Output returns the recorded output for id, if any.
func (c *Context) Output(id ice.NodeID) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.outputs[id]
	return out, ok
}

// Input returns the run's declared top-level input.
func (c *Context) Input() map[string]any { return c.input }

// AllOutputs returns a snapshot of every node's recorded output, keyed by
// node ID string — used to build the flat environment map condition
// expressions evaluate against.
func (c *Context) AllOutputs() map[string]map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[string]any, len(c.outputs))
	for id, v := range c.outputs {
		out[string(id)] = v
	}
	return out
}

// AllOutputsFlat returns every recorded node output as one map keyed by
// node ID string, each value being that node's whole output map (fields of
// different nodes are not merged) — used to summarize a loop/parallel
// iteration's result as a single output document.
func (c *Context) AllOutputsFlat() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.outputs))
	for id, v := range c.outputs {
		out[string(id)] = v
	}
	return out
}

// RunID returns the owning run's ID.
func (c *Context) RunID() ice.RunID { return c.runID }

// Env builds the environment map condition expressions (condition-node
// Expression/When, recursive-node Convergence) evaluate against: the run's
// declared input under "input", every recorded node output under "nodes".
func (c *Context) Env() map[string]any {
	return map[string]any{
		"input": c.Input(),
		"nodes": c.AllOutputs(),
	}
}

// AddCost adds amount (USD) to the run's running cost total. Grounded on
// dshills-langgraph-go/graph/cost.go's CostTracker.RecordLLMCall, simplified
// to a single running total since this module's BudgetTable carries one
// blended per-token rate rather than separate input/output pricing.
func (c *Context) AddCost(amount float64) {
	c.costMu.Lock()
	c.cost += amount
	c.costMu.Unlock()
}

// TotalCost returns the run's accumulated cost so far.
func (c *Context) TotalCost() float64 {
	c.costMu.Lock()
	defer c.costMu.Unlock()
	return c.cost
}

// Memory lazily constructs (once) and returns the run's memory handles.
func (c *Context) Memory() any {
	c.memOnce.Do(func() {
		if c.memFactor != nil {
			c.mem = c.memFactor(c.runID)
		}
	})
	return c.mem
}

// Resolve looks up a "$nodes.<id>.<path>" or "$input.<path>" binding
// expression against recorded outputs / run input. It is intentionally
// limited to dotted-path lookups (no arithmetic) — condition/convergence
// expressions that need arithmetic go through the condition package
// instead.
func (c *Context) Resolve(binding string) (any, error) {
	path := splitPath(strings.TrimPrefix(binding, "$"))
	if len(path) < 2 {
		return nil, fmt.Errorf("execctx: malformed binding %q", binding)
	}
	switch path[0] {
	case "input":
		return lookup(c.input, path[1:])
	case "nodes":
		if len(path) < 3 {
			return nil, fmt.Errorf("execctx: malformed node binding %q", binding)
		}
		out, ok := c.Output(ice.NodeID(path[1]))
		if !ok {
			return nil, fmt.Errorf("execctx: no recorded output for node %q", path[1])
		}
		return lookup(out, path[2:])
	default:
		return nil, fmt.Errorf("execctx: unknown binding root %q", path[0])
	}
}

func splitPath(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == '.' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	out = append(out, cur)
	return out
}

func lookup(m map[string]any, path []string) (any, error) {
	var cur any = m
	for _, key := range path {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("execctx: cannot descend into non-object at %q", key)
		}
		v, ok := asMap[key]
		if !ok {
			return nil, fmt.Errorf("execctx: missing key %q", key)
		}
		cur = v
	}
	return cur, nil
}
