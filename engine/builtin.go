package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	host "github.com/wippyai/component-host"
	"github.com/wippyai/component-host/codec"
	"github.com/wippyai/component-host/contract"
	errs "github.com/wippyai/component-host/errors"
)

// BuiltinInstance runs a host-implemented component under the same rules
// as a wasm guest: it sees only its injected config and its bound imports,
// and a panic in its code surfaces as a trap instead of taking the host
// down.
type BuiltinInstance struct {
	name     string
	contract *contract.Contract
	funcs    map[string]host.BuiltinFunc
	config   map[string]string
	dispatch Dispatch
	calls    atomic.Uint64
}

// NewBuiltin creates a builtin instance. funcs must cover the contract's
// exports; registry.RegisterBuiltin validates that at registration time.
func NewBuiltin(name string, c *contract.Contract, funcs map[string]host.BuiltinFunc, config map[string]string, dispatch Dispatch) *BuiltinInstance {
	return &BuiltinInstance{
		name:     name,
		contract: c,
		funcs:    funcs,
		config:   config,
		dispatch: dispatch,
	}
}

// Call invokes an exported function, recovering panics into traps.
func (b *BuiltinInstance) Call(ctx context.Context, iface, fn string, decl *contract.Function, args []any) (result any, err error) {
	b.calls.Add(1)

	impl := b.funcs[fn]
	if impl == nil || b.contract.Export(iface) == nil {
		return nil, errs.Invocation(b.name, fn, "function not implemented", nil)
	}

	defer func() {
		if r := recover(); r != nil {
			err = errs.Trap(b.name, fn, fmt.Errorf("panic: %v", r))
		}
	}()

	raw, err := impl(ctx, builtinEnv{b}, args)
	if err != nil {
		var structured *errs.Error
		if errors.As(err, &structured) {
			return nil, err
		}
		return nil, errs.Invocation(b.name, fn, "", err)
	}

	if len(decl.Results) == 0 {
		return nil, nil
	}
	result, err = codec.Coerce(decl.Results[0], raw)
	if err != nil {
		return nil, errs.Invocation(b.name, fn, "result does not match contract", err)
	}
	return result, nil
}

// Calls reports how many calls have entered the instance.
func (b *BuiltinInstance) Calls() uint64 {
	return b.calls.Load()
}

func (b *BuiltinInstance) Close(context.Context) error {
	return nil
}

// builtinEnv gives builtin code its composition slot: config lookups and
// calls on bound imports. Interfaces the component does not import are
// rejected before dispatch, mirroring the sandbox import table.
type builtinEnv struct {
	b *BuiltinInstance
}

func (e builtinEnv) Config(key string) (string, bool) {
	v, ok := e.b.config[key]
	return v, ok
}

func (e builtinEnv) Call(ctx context.Context, iface, fn string, args ...any) (any, error) {
	imp := e.b.contract.Import(iface)
	if imp == nil {
		return nil, errs.Invocation(e.b.name, fn, fmt.Sprintf("interface %q is not imported", iface), nil)
	}
	if imp.Func(fn) == nil {
		return nil, errs.Invocation(e.b.name, fn, fmt.Sprintf("function not declared on import %q", iface), nil)
	}
	return e.b.dispatch(ctx, iface, fn, args)
}

var _ Sandbox = (*BuiltinInstance)(nil)
var _ Sandbox = (*Guest)(nil)
var _ host.BuiltinEnv = builtinEnv{}
