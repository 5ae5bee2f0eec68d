package engine

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	host "github.com/wippyai/component-host"
)

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages caps each sandbox's linear memory in 64KB pages.
	// 0 means the wazero default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// Engine wraps one wazero runtime. Compiled artifacts, guest instances,
// and bridge host modules all live inside it; closing the engine tears
// everything down.
type Engine struct {
	runtime wazero.Runtime

	mu      sync.Mutex
	guests  map[string]*Guest
	bridges map[string]*bridgeState
	seq     atomic.Uint64
}

// New creates an engine backed by a fresh wazero runtime.
func New(ctx context.Context, cfg *Config) *Engine {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		guests:  make(map[string]*Guest),
		bridges: make(map[string]*bridgeState),
	}
}

// Compile turns a wasm binary into executable machine code. The result can
// only be instantiated by this engine.
func (e *Engine) Compile(ctx context.Context, binary []byte) (wazero.CompiledModule, error) {
	return e.runtime.CompileModule(ctx, binary)
}

// NextModuleName returns a runtime-unique wazero module name for a
// component instance. Compositions running side by side in one engine
// never collide.
func (e *Engine) NextModuleName(component string) string {
	return "c" + strconv.FormatUint(e.seq.Add(1), 10) + "/" + component
}

func (e *Engine) guest(moduleName string) *Guest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.guests[moduleName]
}

func (e *Engine) register(g *Guest) {
	e.mu.Lock()
	e.guests[g.moduleName] = g
	e.mu.Unlock()
}

func (e *Engine) unregister(moduleName string) {
	e.mu.Lock()
	delete(e.guests, moduleName)
	e.mu.Unlock()
}

// Close shuts the runtime down, closing every instance and compiled module
// it owns.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.guests = make(map[string]*Guest)
	e.bridges = make(map[string]*bridgeState)
	e.mu.Unlock()

	if err := e.runtime.Close(ctx); err != nil {
		host.Logger().Warn("closing wazero runtime", zap.Error(err))
		return err
	}
	return nil
}
