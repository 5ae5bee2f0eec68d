package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	host "github.com/wippyai/component-host"
	"github.com/wippyai/component-host/contract"
	errs "github.com/wippyai/component-host/errors"
	"github.com/wippyai/component-host/wasmbin"
)

// BuiltinPrefix marks locations resolved against registered host-implemented
// components instead of the fetcher.
const BuiltinPrefix = "builtin:"

// ConfigModule is the import module name under which every sandbox reaches
// its injected config values. It is always available and never appears in a
// contract's import list.
const ConfigModule = "host:config/store"

// Compiler turns a validated wasm binary into executable machine code.
// The execution engine implements it.
type Compiler interface {
	Compile(ctx context.Context, binary []byte) (wazero.CompiledModule, error)
}

// Artifact is a loaded, validated, compiled component ready for linking.
// Exactly one of Compiled and Builtin is set.
type Artifact struct {
	Location string
	Contract *contract.Contract

	Compiled wazero.CompiledModule
	Builtin  map[string]host.BuiltinFunc

	refs int
}

// IsBuiltin reports whether the artifact is host-implemented.
func (a *Artifact) IsBuiltin() bool { return a.Builtin != nil }

// Registry caches compiled artifacts by location. Concurrent loads of the
// same location collapse into one fetch and every caller receives the same
// artifact pointer.
type Registry struct {
	compiler Compiler
	fetcher  Fetcher

	mu    sync.Mutex
	cache map[string]*Artifact
	group singleflight.Group
}

func New(compiler Compiler, fetcher Fetcher) *Registry {
	return &Registry{
		compiler: compiler,
		fetcher:  fetcher,
		cache:    make(map[string]*Artifact),
	}
}

// RegisterBuiltin makes a host-implemented component loadable at
// "builtin:<name>". Every function the contract exports must have an
// implementation, and nothing beyond the contract may be implemented.
// Builtin artifacts stay cached for the registry's lifetime.
func (r *Registry) RegisterBuiltin(name string, c *contract.Contract, funcs map[string]host.BuiltinFunc) error {
	location := BuiltinPrefix + name

	declared := make(map[string]bool)
	for _, iface := range c.Exports {
		for _, fn := range iface.Funcs {
			if funcs[fn.Name] == nil {
				return errs.Load(location, fmt.Sprintf("exported function %q has no implementation", fn.Name), nil)
			}
			declared[fn.Name] = true
		}
	}
	for name := range funcs {
		if !declared[name] {
			return errs.Load(location, fmt.Sprintf("function %q is implemented but not exported", name), nil)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.cache[location]; ok {
		// Sessions sharing one registry each register their builtins; an
		// equivalent registration reuses the cached artifact. The coverage
		// checks above tie the function set to the contract, so equal
		// contracts imply equal implementation surfaces.
		if existing.IsBuiltin() && contractFingerprint(existing.Contract) == contractFingerprint(c) {
			return nil
		}
		return errs.Load(location, "builtin component already registered with a different contract", nil)
	}
	r.cache[location] = &Artifact{
		Location: location,
		Contract: c,
		Builtin:  funcs,
	}
	return nil
}

// Load returns the artifact at location, fetching, validating, and
// compiling it on first use. The caller holds a reference until it calls
// Release.
func (r *Registry) Load(ctx context.Context, location string) (*Artifact, error) {
	for {
		r.mu.Lock()
		if a, ok := r.cache[location]; ok {
			a.refs++
			r.mu.Unlock()
			return a, nil
		}
		r.mu.Unlock()

		if strings.HasPrefix(location, BuiltinPrefix) {
			return nil, errs.Load(location, "builtin component not registered", nil)
		}

		v, err, _ := r.group.Do(location, func() (any, error) {
			a, err := r.load(ctx, location)
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			r.cache[location] = a
			r.mu.Unlock()
			return a, nil
		})
		if err != nil {
			return nil, err
		}

		// The artifact may have been released to zero and evicted between
		// the flight finishing and us acquiring a reference; if so, loop
		// and load again.
		a := v.(*Artifact)
		r.mu.Lock()
		if r.cache[location] == a {
			a.refs++
			r.mu.Unlock()
			return a, nil
		}
		r.mu.Unlock()
	}
}

func (r *Registry) load(ctx context.Context, location string) (*Artifact, error) {
	data, err := r.fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, errs.Load(location, "fetching component binary", err)
	}
	if !wasmbin.IsModule(data) {
		return nil, errs.Load(location, "not a wasm module", nil)
	}

	text, err := wasmbin.Contract(data)
	if err != nil {
		return nil, errs.Load(location, "reading contract section", err)
	}
	c, err := contract.Parse(text)
	if err != nil {
		return nil, errs.Load(location, "parsing contract", err)
	}

	compiled, err := r.compiler.Compile(ctx, data)
	if err != nil {
		return nil, errs.Load(location, "compiling module", err)
	}

	a := &Artifact{Location: location, Contract: c, Compiled: compiled}
	if err := validate(a); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	host.Logger().Debug("component loaded",
		zap.String("location", location),
		zap.Int("exports", len(c.Exports)),
		zap.Int("imports", len(c.Imports)))
	return a, nil
}

// validate checks the compiled module against its contract: imported
// functions must belong to declared imported interfaces, declared exports
// must exist, and modules that move strings must export their allocator.
func validate(a *Artifact) error {
	imports := make(map[string]*contract.Interface)
	for i := range a.Contract.Imports {
		imports[a.Contract.Imports[i].Name] = &a.Contract.Imports[i]
	}

	for _, fd := range a.Compiled.ImportedFunctions() {
		mod, name, _ := fd.Import()
		if mod == ConfigModule {
			continue
		}
		iface, ok := imports[mod]
		if !ok {
			return errs.Load(a.Location,
				fmt.Sprintf("module imports %q/%q outside its declared interfaces", mod, name), nil)
		}
		if iface.Func(name) == nil {
			return errs.Load(a.Location,
				fmt.Sprintf("module imports undeclared function %q from %s", name, mod), nil)
		}
	}

	exported := a.Compiled.ExportedFunctions()
	for _, iface := range a.Contract.Exports {
		for _, fn := range iface.Funcs {
			if _, ok := exported[ExportName(iface.Name, fn.Name)]; !ok {
				return errs.Load(a.Location,
					fmt.Sprintf("contract exports %s but module does not", fn.Signature()), nil)
			}
		}
	}

	if movesStrings(a.Contract) {
		if _, ok := exported["alloc"]; !ok {
			return errs.Load(a.Location, "contract uses strings but module exports no allocator", nil)
		}
		if _, ok := a.Compiled.ExportedMemories()["memory"]; !ok {
			return errs.Load(a.Location, "contract uses strings but module exports no memory", nil)
		}
	}
	return nil
}

// contractFingerprint renders a contract's shape for equivalence checks.
// Interface and config order is insensitive; signatures are exact.
func contractFingerprint(c *contract.Contract) string {
	parts := make([]string, 0, len(c.Exports)+len(c.Imports)+len(c.Config))
	for i := range c.Exports {
		parts = append(parts, "export "+ifaceFingerprint(&c.Exports[i]))
	}
	for i := range c.Imports {
		parts = append(parts, "import "+ifaceFingerprint(&c.Imports[i]))
	}
	for _, key := range c.Config {
		s := "config " + key.Name
		if key.Required {
			s += " required"
		}
		parts = append(parts, s)
	}
	sort.Strings(parts)
	return strings.Join(parts, "\n")
}

func ifaceFingerprint(iface *contract.Interface) string {
	sigs := make([]string, 0, len(iface.Funcs))
	for i := range iface.Funcs {
		sigs = append(sigs, iface.Funcs[i].Signature())
	}
	sort.Strings(sigs)
	return iface.String() + "{" + strings.Join(sigs, ";") + "}"
}

// ExportName is the naming convention binding a contract function to a
// core wasm export: interface base name, '#', function name.
func ExportName(iface, fn string) string {
	return iface + "#" + fn
}

func movesStrings(c *contract.Contract) bool {
	ifaces := make([]contract.Interface, 0, len(c.Exports)+len(c.Imports))
	ifaces = append(ifaces, c.Exports...)
	ifaces = append(ifaces, c.Imports...)
	for _, iface := range ifaces {
		for _, fn := range iface.Funcs {
			for _, p := range fn.Params {
				if _, ok := p.Type.(wit.String); ok {
					return true
				}
			}
			for _, t := range fn.Results {
				if _, ok := t.(wit.String); ok {
					return true
				}
			}
		}
	}
	return false
}

// Release drops a reference taken by Load. The last release of a compiled
// artifact evicts it and frees its machine code. Builtin artifacts are
// never evicted.
func (r *Registry) Release(ctx context.Context, a *Artifact) {
	r.mu.Lock()
	a.refs--
	evict := a.refs <= 0 && !a.IsBuiltin()
	if evict {
		delete(r.cache, a.Location)
	}
	r.mu.Unlock()

	if evict && a.Compiled != nil {
		if err := a.Compiled.Close(ctx); err != nil {
			host.Logger().Warn("closing compiled module",
				zap.String("location", a.Location), zap.Error(err))
		}
	}
}

// Close evicts every cached artifact regardless of reference count.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	artifacts := make([]*Artifact, 0, len(r.cache))
	for _, a := range r.cache {
		artifacts = append(artifacts, a)
	}
	r.cache = make(map[string]*Artifact)
	r.mu.Unlock()

	var firstErr error
	for _, a := range artifacts {
		if a.Compiled == nil {
			continue
		}
		if err := a.Compiled.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
