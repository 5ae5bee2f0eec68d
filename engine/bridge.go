package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"

	host "github.com/wippyai/component-host"
	"github.com/wippyai/component-host/codec"
	"github.com/wippyai/component-host/contract"
	errs "github.com/wippyai/component-host/errors"
	"github.com/wippyai/component-host/registry"
)

// bridgeState tracks one instantiated bridge host module. A bridge's
// export set is fixed at instantiation; it can only be rebuilt while no
// live guest imports it.
type bridgeState struct {
	module  api.Module
	exports map[string]string            // function name -> flat signature
	decls   map[string]contract.Function // function name -> declaration
	refs    int
}

// EnsureBridges instantiates (or extends) the bridge host module for each
// imported interface, then pins them for the caller. ifaces maps interface
// base names to the union of function declarations the composition's
// importers use. Pins are dropped with ReleaseBridges.
func (e *Engine) EnsureBridges(ctx context.Context, ifaces map[string][]contract.Function) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var pinned []string
	fail := func(err error) error {
		for _, name := range pinned {
			e.bridges[name].refs--
		}
		return err
	}

	for name, funcs := range ifaces {
		decls := make(map[string]contract.Function, len(funcs))
		wanted := make(map[string]string, len(funcs))
		for _, fn := range funcs {
			decls[fn.Name] = fn
			wanted[fn.Name] = flatSignature(&fn)
		}

		state := e.bridges[name]
		if state != nil {
			missing := false
			for fn, sig := range wanted {
				have, ok := state.exports[fn]
				if ok && have != sig {
					return fail(errs.Load(name, fmt.Sprintf("bridge function %q already exists with a different shape", fn), nil))
				}
				if !ok {
					missing = true
				}
			}
			if missing {
				if state.refs > 0 {
					return fail(errs.Load(name, "bridge is in use with a narrower function set", nil))
				}
				if err := state.module.Close(ctx); err != nil {
					return fail(errs.Load(name, "rebuilding bridge", err))
				}
				delete(e.bridges, name)
				// Rebuild with the union of old and new surfaces.
				for fn, decl := range state.decls {
					if _, ok := decls[fn]; !ok {
						decls[fn] = decl
						wanted[fn] = state.exports[fn]
					}
				}
				state = nil
			}
		}

		if state == nil {
			built, err := e.buildBridge(ctx, name, decls, wanted)
			if err != nil {
				return fail(err)
			}
			state = built
			e.bridges[name] = state
		}

		state.refs++
		pinned = append(pinned, name)
	}
	return nil
}

// buildBridge instantiates the host module backing one imported interface.
// Every exported function resolves its caller at call time and forwards
// through the caller's dispatch callback.
func (e *Engine) buildBridge(ctx context.Context, iface string, decls map[string]contract.Function, wanted map[string]string) (*bridgeState, error) {
	builder := e.runtime.NewHostModuleBuilder(iface)

	for name := range decls {
		fn := decls[name]
		handler := api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			e.handleBridgeCall(ctx, mod, iface, &fn, stack)
		})
		builder.NewFunctionBuilder().
			WithGoModuleFunction(handler, codec.FlatParamTypes(&fn), codec.FlatResultTypes(&fn)).
			Export(fn.Name)
	}

	module, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errs.Load(iface, "instantiating bridge", err)
	}

	host.Logger().Debug("bridge instantiated",
		zap.String("interface", iface),
		zap.Int("functions", len(decls)))
	return &bridgeState{module: module, exports: wanted, decls: decls}, nil
}

// ReleaseBridges drops the pins EnsureBridges took.
func (e *Engine) ReleaseBridges(ifaces []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, name := range ifaces {
		if state := e.bridges[name]; state != nil && state.refs > 0 {
			state.refs--
		}
	}
}

// handleBridgeCall carries one outbound call: lift the arguments from the
// calling guest's memory, route through its dispatch callback, lower the
// result back. Any failure traps the calling sandbox; the structured error
// is parked on the guest so its entry-point Call can report it.
func (e *Engine) handleBridgeCall(ctx context.Context, mod api.Module, iface string, fn *contract.Function, stack []uint64) {
	g := e.guest(mod.Name())
	if g == nil {
		panic(errs.Invocation(mod.Name(), fn.Name, "caller is not a managed instance", nil))
	}

	trap := func(err error) {
		g.setPendingErr(err)
		panic(err)
	}

	mem := &guestMemory{mem: mod.Memory()}
	args, err := codec.LiftArgs(mem, fn, stack)
	if err != nil {
		trap(errs.Invocation(g.name, fn.Name, "lifting outbound arguments", err))
	}

	result, err := g.dispatch(ctx, iface, fn.Name, args)
	if err != nil {
		trap(err)
	}

	if len(fn.Results) == 0 {
		return
	}
	alloc := ctxAllocator{a: g.alloc, ctx: ctx}
	raw, err := codec.LowerResult(mem, alloc, fn.Results[0], result)
	if err != nil {
		trap(errs.Invocation(g.name, fn.Name, "lowering outbound result", err))
	}
	stack[0] = raw
}

// flatSignature renders a function's lowered shape for conflict checks.
func flatSignature(fn *contract.Function) string {
	sig := ""
	for _, t := range codec.FlatParamTypes(fn) {
		sig += api.ValueTypeName(t) + ","
	}
	sig += "->"
	for _, t := range codec.FlatResultTypes(fn) {
		sig += api.ValueTypeName(t) + ","
	}
	return sig
}

// ConfigModuleFuncs is the export surface of the config store bridge.
//
//	has(key_ptr, key_len) -> i32
//	get(key_ptr, key_len) -> i64 (value ptr<<32 | len, in caller memory)
//
// get traps on a missing key; guests probe with has first.
const configHas, configGet = "has", "get"

// EnsureConfigModule instantiates the host module every guest reads its
// injected config through. Idempotent per engine.
func (e *Engine) EnsureConfigModule(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runtime.Module(registry.ConfigModule) != nil {
		return nil
	}

	builder := e.runtime.NewHostModuleBuilder(registry.ConfigModule)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.handleConfigHas),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		Export(configHas)

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.handleConfigGet),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI64}).
		Export(configGet)

	if _, err := builder.Instantiate(ctx); err != nil {
		return errs.Load(registry.ConfigModule, "instantiating config module", err)
	}
	return nil
}

func (e *Engine) configCaller(mod api.Module, stack []uint64) (*Guest, string, error) {
	g := e.guest(mod.Name())
	if g == nil {
		return nil, "", errs.Invocation(mod.Name(), configGet, "caller is not a managed instance", nil)
	}
	mem := &guestMemory{mem: mod.Memory()}
	key, err := mem.Read(uint32(stack[0]), uint32(stack[1]))
	if err != nil {
		return nil, "", errs.Invocation(g.name, configGet, "reading config key", err)
	}
	return g, string(key), nil
}

func (e *Engine) handleConfigHas(_ context.Context, mod api.Module, stack []uint64) {
	g, key, err := e.configCaller(mod, stack)
	if err != nil {
		panic(err)
	}
	if _, ok := g.config[key]; ok {
		stack[0] = 1
	} else {
		stack[0] = 0
	}
}

func (e *Engine) handleConfigGet(ctx context.Context, mod api.Module, stack []uint64) {
	g, key, err := e.configCaller(mod, stack)
	if err != nil {
		panic(err)
	}

	value, ok := g.config[key]
	if !ok {
		err := errs.Config(g.name, key)
		g.setPendingErr(err)
		panic(err)
	}

	mem := &guestMemory{mem: mod.Memory()}
	alloc := ctxAllocator{a: g.alloc, ctx: ctx}
	raw, err := codec.LowerResult(mem, alloc, wit.String{}, value)
	if err != nil {
		lowered := errs.Invocation(g.name, configGet, "lowering config value", err)
		g.setPendingErr(lowered)
		panic(lowered)
	}
	stack[0] = raw
}
