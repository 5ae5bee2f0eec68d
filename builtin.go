package componenthost

import "context"

// BuiltinEnv is the view a host-implemented component gets of its own
// composition slot: its injected config values and its bound imports.
// It mirrors exactly what a sandboxed component can reach, so builtin
// components obey the same isolation rules as compiled ones.
type BuiltinEnv interface {
	// Config returns an injected config value by key.
	Config(key string) (string, bool)

	// Call invokes a function on whichever component is bound to the
	// named imported interface. Calling an interface the component does
	// not import is an error.
	Call(ctx context.Context, iface, fn string, args ...any) (any, error)
}

// BuiltinFunc implements one exported function of a host-implemented
// component. Arguments arrive already coerced to the declared parameter
// types; the returned value must match the declared result type.
type BuiltinFunc func(ctx context.Context, env BuiltinEnv, args []any) (any, error)
