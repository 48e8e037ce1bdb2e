// Package condition evaluates the restricted expression mini-language used
// by condition nodes (branch selection) and recursive nodes (convergence
// checks). No repo in the retrieval pack ships an evaluator directly;
// expr-lang/expr is adopted because it is the direct, non-indirect
// dependency several pack-adjacent workflow engines (tombee-conductor,
// smilemakc-mbflow, aipilotbyjd-linkflow-v2) use for exactly this purpose.
package condition

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/iceos/core/ice"
)

// Program is a compiled expression ready for repeated evaluation against
// different environments (e.g. once per recursive-node iteration).
type Program struct {
	src     string
	program *vm.Program
}

// Compile parses and type-checks src against the shape of env (a
// representative input map; expr uses it only to catch obvious mistakes
// early, not to restrict later Eval calls to identical keys).
func Compile(src string, env map[string]any) (*Program, error) {
	p, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, ice.Wrap(ice.KindValidation, err, "compiling expression %q", src)
	}
	return &Program{src: src, program: p}, nil
}

// Eval runs the compiled program against env and returns its boolean
// result.
func (p *Program) Eval(env map[string]any) (bool, error) {
	out, err := expr.Run(p.program, env)
	if err != nil {
		return false, ice.Wrap(ice.KindValidation, err, "evaluating expression %q", p.src)
	}
	b, ok := out.(bool)
	if !ok {
		return false, ice.New(ice.KindValidation, "expression %q did not evaluate to bool (got %T)", p.src, out)
	}
	return b, nil
}

// EvalOnce compiles and evaluates src in one call; used for one-shot
// condition nodes where the expression is not reused across iterations.
func EvalOnce(src string, env map[string]any) (bool, error) {
	p, err := Compile(src, env)
	if err != nil {
		return false, err
	}
	return p.Eval(env)
}

// String implements fmt.Stringer for debugging/log output.
func (p *Program) String() string { return fmt.Sprintf("condition(%s)", p.src) }
