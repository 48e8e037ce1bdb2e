// Package sandbox runs code-node source in an embedded Lua VM. Only the
// base, string, table and math libraries are loaded, so no io, os or
// network library is available to a script. The cpuMs budget is enforced
// as a wall-clock deadline on the VM's context; memMB is accepted but not
// enforced, so no memory ceiling is applied. There is no in-pack sandbox
// source to ground this on directly (see DESIGN.md/SPEC_FULL.md §2 for the
// library justification); the isolation discipline below — closed global
// environment, deadline-bound execution — is this module's own design.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/iceos/core/ice"
	lua "github.com/yuin/gopher-lua"
)

// Runner executes code-node source in an isolated Lua VM per call.
type Runner struct {
	// Whitelist names additional standard library tables (e.g. "os.time").
	// Run does not consult it: the VM always loads exactly the default set
	// (base, string, table, math).
	Whitelist []string
}

func New() *Runner { return &Runner{} }

// Run compiles and executes source with inputs bound as globals, returning
// whatever table the script assigns to the global "output".
func (r *Runner) Run(ctx context.Context, source string, inputs map[string]any, cpuMs, memMB int) (map[string]any, error) {
	l := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer l.Close()

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := l.CallByParam(lua.P{Fn: l.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			return nil, ice.Wrap(ice.KindInternal, err, "sandbox: opening library %s", lib.name)
		}
	}

	budget := cpuMs
	if budget <= 0 {
		budget = 500
	}
	// The CPU budget is enforced as a wall-clock deadline on the VM.
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(budget)*time.Millisecond)
	defer cancel()
	l.SetContext(runCtx)

	for key, val := range inputs {
		l.SetGlobal(key, toLua(l, val))
	}

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- l.DoString(source)
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ice.Wrap(ice.KindCancelled, ctx.Err(), "sandbox: execution cancelled")
		}
		return nil, ice.New(ice.KindCodeResourceExceeded, "sandbox: cpu budget of %dms exceeded", budget)
	case err := <-doneCh:
		if err != nil {
			if ctx.Err() != nil {
				return nil, ice.Wrap(ice.KindCancelled, ctx.Err(), "sandbox: execution cancelled")
			}
			return nil, ice.Wrap(ice.KindCodeResourceExceeded, err, "sandbox: execution error")
		}
	}

	_ = memMB

	outVal := l.GetGlobal("output")
	tbl, ok := outVal.(*lua.LTable)
	if !ok {
		return map[string]any{}, nil
	}
	return fromLuaTable(tbl), nil
}

func toLua(l *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case float64:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case map[string]any:
		tbl := l.NewTable()
		for k, v := range t {
			tbl.RawSetString(k, toLua(l, v))
		}
		return tbl
	case []any:
		tbl := l.NewTable()
		for i, v := range t {
			tbl.RawSetInt(i+1, toLua(l, v))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", t))
	}
}

func fromLuaTable(tbl *lua.LTable) map[string]any {
	out := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		out[k.String()] = fromLuaValue(v)
	})
	return out
}

func fromLuaValue(v lua.LValue) any {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		return fromLuaTable(t)
	default:
		return nil
	}
}
