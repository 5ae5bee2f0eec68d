package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	host "github.com/wippyai/component-host"
	"github.com/wippyai/component-host/codec"
	"github.com/wippyai/component-host/contract"
	errs "github.com/wippyai/component-host/errors"
	"github.com/wippyai/component-host/registry"
)

// Dispatch routes a call leaving a sandbox. The session installs one per
// instance; iface names an interface the instance imports and the callback
// resolves it against the instance's fixed bindings.
type Dispatch func(ctx context.Context, iface, fn string, args []any) (any, error)

// Sandbox is a running component instance. Guest (compiled wasm) and
// BuiltinInstance (host-implemented) both satisfy it.
type Sandbox interface {
	// Call invokes an exported function. decl is the function's contract
	// declaration; args must already be coerced to the declared types.
	Call(ctx context.Context, iface, fn string, decl *contract.Function, args []any) (any, error)

	// Calls reports how many calls have entered the sandbox.
	Calls() uint64

	Close(ctx context.Context) error
}

// GuestConfig describes one compiled component instance.
type GuestConfig struct {
	// Name is the component's name in its composition.
	Name string

	// Contract is the component's parsed interface contract.
	Contract *contract.Contract

	// Config holds the injected config values.
	Config map[string]string

	// Dispatch serves the instance's imported interfaces.
	Dispatch Dispatch
}

// Guest is a component instance running in a wazero sandbox.
type Guest struct {
	engine     *Engine
	name       string
	moduleName string
	contract   *contract.Contract
	config     map[string]string
	dispatch   Dispatch

	module api.Module
	mem    *guestMemory
	alloc  *guestAllocator

	calls atomic.Uint64

	// pendingErr carries a structured error out of a bridge handler that
	// had to trap the sandbox to abort the call.
	pendingMu  sync.Mutex
	pendingErr error
}

// Instantiate runs a compiled component as a new guest. The guest's
// imported interfaces must already have bridges (EnsureBridges) and the
// config module must exist (EnsureConfigModule); start functions may call
// into both during instantiation.
func (e *Engine) Instantiate(ctx context.Context, compiled wazero.CompiledModule, cfg GuestConfig) (*Guest, error) {
	g := &Guest{
		engine:     e,
		name:       cfg.Name,
		moduleName: e.NextModuleName(cfg.Name),
		contract:   cfg.Contract,
		config:     cfg.Config,
		dispatch:   cfg.Dispatch,
	}

	// Bridge handlers resolve the caller by module name, so the guest must
	// be visible before its start functions run.
	e.register(g)

	modConfig := wazero.NewModuleConfig().
		WithName(g.moduleName).
		WithStartFunctions("_initialize")

	instance, err := e.runtime.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		e.unregister(g.moduleName)
		if pending := g.takePendingErr(); pending != nil {
			return nil, errs.Instantiation(cfg.Name, pending)
		}
		return nil, errs.Instantiation(cfg.Name, err)
	}

	g.module = instance
	if mem := instance.Memory(); mem != nil {
		g.mem = &guestMemory{mem: mem}
	}
	g.alloc = newGuestAllocator(instance)

	host.Logger().Debug("guest instantiated",
		zap.String("component", cfg.Name),
		zap.String("module", g.moduleName))
	return g, nil
}

// Call invokes an exported function through the flat ABI.
func (g *Guest) Call(ctx context.Context, iface, fn string, decl *contract.Function, args []any) (any, error) {
	g.calls.Add(1)

	export := g.module.ExportedFunction(registry.ExportName(iface, fn))
	if export == nil {
		return nil, errs.Invocation(g.name, fn, "export missing from module", nil)
	}

	alloc := ctxAllocator{a: g.alloc, ctx: ctx}
	stack, release, err := codec.LowerArgs(g.memory(), alloc, decl, args)
	if err != nil {
		return nil, errs.Invocation(g.name, fn, "lowering arguments", err)
	}
	defer release()

	if len(decl.Results) > len(stack) {
		stack = append(stack, make([]uint64, len(decl.Results)-len(stack))...)
	}

	g.takePendingErr()
	if err := export.CallWithStack(ctx, stack); err != nil {
		if pending := g.takePendingErr(); pending != nil {
			return nil, pending
		}
		return nil, errs.Trap(g.name, fn, err)
	}

	if len(decl.Results) == 0 {
		return nil, nil
	}
	result, err := codec.LiftResult(g.memory(), decl.Results[0], stack[0])
	if err != nil {
		return nil, errs.Invocation(g.name, fn, "lifting result", err)
	}
	return result, nil
}

// memory returns the guest's linear memory, or a stub that fails every
// access when the module exports none.
func (g *Guest) memory() host.Memory {
	if g.mem != nil {
		return g.mem
	}
	return noMemory{}
}

// Calls reports how many calls have entered the sandbox.
func (g *Guest) Calls() uint64 {
	return g.calls.Load()
}

// ModuleName returns the guest's runtime-unique wazero module name.
func (g *Guest) ModuleName() string {
	return g.moduleName
}

func (g *Guest) setPendingErr(err error) {
	g.pendingMu.Lock()
	if g.pendingErr == nil {
		g.pendingErr = err
	}
	g.pendingMu.Unlock()
}

func (g *Guest) takePendingErr() error {
	g.pendingMu.Lock()
	err := g.pendingErr
	g.pendingErr = nil
	g.pendingMu.Unlock()
	return err
}

// Close tears the instance down and removes it from the engine.
func (g *Guest) Close(ctx context.Context) error {
	g.engine.unregister(g.moduleName)
	if g.module == nil {
		return nil
	}
	err := g.module.Close(ctx)
	g.module = nil
	g.mem = nil
	g.alloc = nil
	return err
}

var errNoMemory = errors.New("module exports no memory")

type noMemory struct{}

func (noMemory) Read(uint32, uint32) ([]byte, error) { return nil, errNoMemory }
func (noMemory) Write(uint32, []byte) error          { return errNoMemory }
func (noMemory) ReadU32(uint32) (uint32, error)      { return 0, errNoMemory }
func (noMemory) ReadU64(uint32) (uint64, error)      { return 0, errNoMemory }
func (noMemory) WriteU32(uint32, uint32) error       { return errNoMemory }
func (noMemory) WriteU64(uint32, uint64) error       { return errNoMemory }
