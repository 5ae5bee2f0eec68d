package session

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	host "github.com/wippyai/component-host"
	"github.com/wippyai/component-host/contract"
	"github.com/wippyai/component-host/engine"
	errs "github.com/wippyai/component-host/errors"
	"github.com/wippyai/component-host/graph"
	"github.com/wippyai/component-host/registry"
)

// State tracks how far a component instance has come.
type State uint32

const (
	StateUnloaded State = iota
	StateLinked
	StateInstantiated
	StateRunning
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLinked:
		return "linked"
	case StateInstantiated:
		return "instantiated"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Builtin registers a host-implemented component for a session, loadable
// at "builtin:<name>" locations.
type Builtin struct {
	Name     string
	Contract *contract.Contract
	Funcs    map[string]host.BuiltinFunc
}

// Options configures Load. The zero value works when every component
// location is a filesystem path relative to the working directory.
type Options struct {
	// Fetcher retrieves component binaries. Defaults to FileFetcher with
	// no root.
	Fetcher registry.Fetcher

	// Registry shares loaded artifacts between sessions. When nil the
	// session owns a private one. A shared Registry must have been built
	// on the same Engine.
	Registry *registry.Registry

	// Engine shares one wazero runtime between sessions. When nil the
	// session owns a private one, torn down at Shutdown.
	Engine *engine.Engine

	// EngineConfig applies when the session creates its own engine.
	EngineConfig *engine.Config

	// Builtins are host-implemented components available to this
	// composition.
	Builtins []Builtin
}

// instance is one activated component.
type instance struct {
	name     string
	spec     host.ComponentSpec
	artifact *registry.Artifact
	sandbox  engine.Sandbox
	state    atomic.Uint32

	// mu serializes calls into the instance. owner is the chain token of
	// the call currently inside, letting the same chain re-enter.
	mu    sync.Mutex
	owner atomic.Pointer[chainToken]
}

func (in *instance) setState(s State) { in.state.Store(uint32(s)) }
func (in *instance) getState() State  { return State(in.state.Load()) }

// Session is an activated composition.
type Session struct {
	eng       *engine.Engine
	reg       *registry.Registry
	ownEngine bool
	graph     *graph.Graph
	instances map[string]*instance
	bridges   []string
	closed    atomic.Bool
	closeOnce sync.Once
}

// Load activates a composition. On any failure nothing stays behind:
// partially created instances are closed and acquired artifacts released.
func Load(ctx context.Context, specs []host.ComponentSpec, opts Options) (*Session, error) {
	s := &Session{instances: make(map[string]*instance)}

	s.eng = opts.Engine
	if s.eng == nil {
		s.eng = engine.New(ctx, opts.EngineConfig)
		s.ownEngine = true
	}

	s.reg = opts.Registry
	if s.reg == nil {
		fetcher := opts.Fetcher
		if fetcher == nil {
			fetcher = registry.FileFetcher{}
		}
		s.reg = registry.New(s.eng, fetcher)
	}

	if err := s.load(ctx, specs, opts.Builtins); err != nil {
		s.teardown(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Session) load(ctx context.Context, specs []host.ComponentSpec, builtins []Builtin) error {
	for _, b := range builtins {
		if err := s.reg.RegisterBuiltin(b.Name, b.Contract, b.Funcs); err != nil {
			return err
		}
	}

	for _, spec := range specs {
		if _, ok := s.instances[spec.Name]; ok {
			return errs.Load(spec.Name, "duplicate component name", nil)
		}
		s.instances[spec.Name] = &instance{name: spec.Name, spec: spec}
	}

	// Load every artifact concurrently. Registry collapses duplicate
	// locations, so shared dependencies are fetched once.
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	artifacts := make(map[string]*registry.Artifact, len(specs))
	for _, spec := range specs {
		g.Go(func() error {
			a, err := s.reg.Load(gctx, spec.URI)
			if err != nil {
				return err
			}
			mu.Lock()
			artifacts[spec.Name] = a
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Instances without artifacts are skipped by teardown's release.
		for name, a := range artifacts {
			if in := s.instances[name]; in != nil {
				in.artifact = a
			}
		}
		return err
	}

	contracts := make(map[string]*contract.Contract, len(artifacts))
	for name, a := range artifacts {
		if in := s.instances[name]; in != nil {
			in.artifact = a
		}
		contracts[name] = a.Contract
	}

	composition, err := graph.Build(specs, contracts)
	if err != nil {
		return err
	}
	s.graph = composition
	for _, in := range s.instances {
		in.setState(StateLinked)
	}

	if err := s.checkRequiredConfig(specs, contracts); err != nil {
		return err
	}

	if err := s.setupBridges(ctx); err != nil {
		return err
	}

	if err := s.instantiate(ctx); err != nil {
		return err
	}

	for _, in := range s.instances {
		in.setState(StateRunning)
	}
	host.Logger().Info("session activated",
		zap.Int("components", len(specs)),
		zap.Strings("order", composition.Order))
	return nil
}

// checkRequiredConfig fails activation when a contract-required config key
// has no injected value.
func (s *Session) checkRequiredConfig(specs []host.ComponentSpec, contracts map[string]*contract.Contract) error {
	for _, spec := range specs {
		for _, key := range contracts[spec.Name].RequiredConfig() {
			if _, ok := spec.ConfigValue(key); !ok {
				return errs.Config(spec.Name, key)
			}
		}
	}
	return nil
}

// setupBridges prepares the host modules every wasm guest's imports route
// through. Builtin components dispatch natively and need none.
func (s *Session) setupBridges(ctx context.Context) error {
	ifaces := make(map[string][]contract.Function)
	seen := make(map[string]map[string]bool)
	needConfig := false

	for _, in := range s.instances {
		if in.artifact.IsBuiltin() {
			continue
		}
		needConfig = true
		for _, imp := range in.artifact.Contract.Imports {
			if seen[imp.Name] == nil {
				seen[imp.Name] = make(map[string]bool)
			}
			for _, fn := range imp.Funcs {
				if seen[imp.Name][fn.Name] {
					continue
				}
				seen[imp.Name][fn.Name] = true
				ifaces[imp.Name] = append(ifaces[imp.Name], fn)
			}
		}
	}

	if needConfig {
		if err := s.eng.EnsureConfigModule(ctx); err != nil {
			return err
		}
	}
	if len(ifaces) == 0 {
		return nil
	}
	if err := s.eng.EnsureBridges(ctx, ifaces); err != nil {
		return err
	}
	for name := range ifaces {
		s.bridges = append(s.bridges, name)
	}
	return nil
}

// instantiate creates sandboxes dependencies-first. Components at the same
// depth have no path between them and instantiate concurrently.
func (s *Session) instantiate(ctx context.Context) error {
	depth := make(map[string]int, len(s.graph.Order))
	maxDepth := 0
	for _, name := range s.graph.Order {
		d := 0
		for _, b := range s.graph.Bindings {
			if b.Importer == name && depth[b.Exporter]+1 > d {
				d = depth[b.Exporter] + 1
			}
		}
		depth[name] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	for level := 0; level <= maxDepth; level++ {
		g, gctx := errgroup.WithContext(ctx)
		for _, name := range s.graph.Order {
			if depth[name] != level {
				continue
			}
			in := s.instances[name]
			g.Go(func() error {
				return s.activate(gctx, in)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) activate(ctx context.Context, in *instance) error {
	dispatch := s.dispatchFor(in)
	config := in.spec.ConfigMap()

	if in.artifact.IsBuiltin() {
		in.sandbox = engine.NewBuiltin(in.name, in.artifact.Contract, in.artifact.Builtin, config, dispatch)
		in.setState(StateInstantiated)
		return nil
	}

	guest, err := s.eng.Instantiate(ctx, in.artifact.Compiled, engine.GuestConfig{
		Name:     in.name,
		Contract: in.artifact.Contract,
		Config:   config,
		Dispatch: dispatch,
	})
	if err != nil {
		in.setState(StateFailed)
		return err
	}
	in.sandbox = guest
	in.setState(StateInstantiated)
	return nil
}

// ComponentInfo describes one component of a live session.
type ComponentInfo struct {
	Name     string
	Location string
	Exposed  bool
	State    State
	Exports  []contract.Interface
	Calls    uint64
}

func (s *Session) info(in *instance) ComponentInfo {
	var calls uint64
	if in.sandbox != nil {
		calls = in.sandbox.Calls()
	}
	return ComponentInfo{
		Name:     in.name,
		Location: in.spec.URI,
		Exposed:  in.spec.Exposed,
		State:    in.getState(),
		Exports:  in.artifact.Contract.Exports,
		Calls:    calls,
	}
}

// Components lists the exposed components, in instantiation order.
// Non-exposed components exist only to each other.
func (s *Session) Components() []ComponentInfo {
	var out []ComponentInfo
	for _, name := range s.graph.Order {
		in := s.instances[name]
		if in.spec.Exposed {
			out = append(out, s.info(in))
		}
	}
	return out
}

// Component returns one exposed component's info. Asking about a
// non-exposed component is a capability error, same as calling it.
func (s *Session) Component(name string) (ComponentInfo, error) {
	in, ok := s.instances[name]
	if !ok {
		return ComponentInfo{}, errs.Invocation(name, "", "unknown component", nil)
	}
	if !in.spec.Exposed {
		return ComponentInfo{}, errs.Capability(name)
	}
	return s.info(in), nil
}

// Graph returns the session's resolved composition graph.
func (s *Session) Graph() *graph.Graph {
	return s.graph
}

// Shutdown deactivates the composition: instances close in reverse
// instantiation order, artifact references drop, and a session-owned
// engine is closed. Safe to call more than once.
func (s *Session) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.teardown(ctx)
	})
	return err
}

func (s *Session) teardown(ctx context.Context) error {
	s.closed.Store(true)

	var firstErr error
	// Holding the instance lock drains any in-flight call first; a call
	// racing with us re-checks closed under the same lock before it
	// touches the sandbox. The fields themselves stay set so concurrent
	// readers never observe a partial instance.
	closeInstance := func(in *instance) {
		if in.sandbox == nil {
			return
		}
		in.mu.Lock()
		cerr := in.sandbox.Close(ctx)
		in.mu.Unlock()
		if cerr != nil && firstErr == nil {
			firstErr = cerr
		}
		in.setState(StateUnloaded)
	}

	if s.graph != nil {
		for i := len(s.graph.Order) - 1; i >= 0; i-- {
			closeInstance(s.instances[s.graph.Order[i]])
		}
	} else {
		for _, in := range s.instances {
			closeInstance(in)
		}
	}

	s.eng.ReleaseBridges(s.bridges)
	s.bridges = nil

	for _, in := range s.instances {
		if in.artifact != nil {
			s.reg.Release(ctx, in.artifact)
		}
	}

	if s.ownEngine {
		if cerr := s.eng.Close(ctx); cerr != nil && firstErr == nil {
			firstErr = cerr
		}
	}
	return firstErr
}
