package session

import (
	"context"
	"fmt"

	"github.com/wippyai/component-host/codec"
	"github.com/wippyai/component-host/contract"
	"github.com/wippyai/component-host/engine"
	errs "github.com/wippyai/component-host/errors"
)

// chainToken identifies one call chain. Every host invocation mints one;
// it rides the context across every hop the call makes, so an instance can
// tell re-entry by its own chain from a competing call. The padding byte
// keeps the struct nonzero-sized so each allocation has a distinct address.
type chainToken struct{ _ byte }

type chainKey struct{}

func chainFrom(ctx context.Context) (*chainToken, context.Context) {
	if token, ok := ctx.Value(chainKey{}).(*chainToken); ok {
		return token, ctx
	}
	token := new(chainToken)
	return token, context.WithValue(ctx, chainKey{}, token)
}

// acquire serializes entry into an instance. A chain that already holds
// the instance re-enters without taking the lock again; the returned
// release undoes exactly what acquire did.
func (in *instance) acquire(token *chainToken) func() {
	if in.owner.Load() == token {
		return func() {}
	}
	in.mu.Lock()
	in.owner.Store(token)
	return func() {
		in.owner.Store(nil)
		in.mu.Unlock()
	}
}

// Invoke calls an exported function on an exposed component. Arguments are
// validated against the contract before the sandbox is entered; a rejected
// call costs the instance nothing.
func (s *Session) Invoke(ctx context.Context, component, function string, args ...any) (any, error) {
	if s.closed.Load() {
		return nil, errs.SessionClosed()
	}

	in, ok := s.instances[component]
	if !ok {
		return nil, errs.Invocation(component, function, "unknown component", nil)
	}
	if !in.spec.Exposed {
		return nil, errs.Capability(component)
	}

	iface, decl, err := in.artifact.Contract.ExportedFunc(function)
	if err != nil {
		return nil, errs.Invocation(component, function, err.Error(), nil)
	}

	coerced, err := s.checkArgs(component, function, decl, args)
	if err != nil {
		return nil, err
	}

	token, ctx := chainFrom(ctx)
	release := in.acquire(token)
	defer release()

	if s.closed.Load() {
		return nil, errs.SessionClosed()
	}
	return in.sandbox.Call(ctx, iface.Name, function, decl, coerced)
}

// checkArgs validates arity and types against the declaration without
// touching any sandbox.
func (s *Session) checkArgs(component, function string, decl *contract.Function, args []any) ([]any, error) {
	if len(args) != len(decl.Params) {
		return nil, errs.Invocation(component, function,
			fmt.Sprintf("expects %d arguments, got %d", len(decl.Params), len(args)), nil)
	}
	coerced, err := codec.CoerceArgs(decl, args)
	if err != nil {
		return nil, errs.Invocation(component, function, err.Error(), nil)
	}
	return coerced, nil
}

// dispatchFor builds the routing callback for one instance. The callback
// resolves only against the importer's fixed bindings: components it was
// never linked to stay unreachable no matter what it asks for.
func (s *Session) dispatchFor(importer *instance) engine.Dispatch {
	return func(ctx context.Context, iface, fn string, args []any) (any, error) {
		if s.closed.Load() {
			return nil, errs.SessionClosed()
		}

		exporterName, ok := s.graph.ExporterFor(importer.name, iface)
		if !ok {
			return nil, errs.Invocation(importer.name, fn,
				fmt.Sprintf("interface %q is not bound", iface), nil)
		}
		if exporterName == importer.name {
			return nil, errs.Invocation(importer.name, fn, "component cannot call itself", nil)
		}

		target := s.instances[exporterName]
		export := target.artifact.Contract.Export(iface)
		if export == nil || export.Func(fn) == nil {
			return nil, errs.Invocation(exporterName, fn,
				fmt.Sprintf("not exported on %q", iface), nil)
		}
		decl := export.Func(fn)

		coerced, err := s.checkArgs(exporterName, fn, decl, args)
		if err != nil {
			return nil, err
		}

		token, ctx := chainFrom(ctx)
		release := target.acquire(token)
		defer release()

		if s.closed.Load() {
			return nil, errs.SessionClosed()
		}
		return target.sandbox.Call(ctx, iface, fn, decl, coerced)
	}
}
