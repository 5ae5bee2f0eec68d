package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the component lifecycle the error occurred
type Phase string

const (
	PhaseContract    Phase = "contract"    // contract parsing
	PhaseLoad        Phase = "load"        // artifact loading
	PhaseLink        Phase = "link"        // graph resolution
	PhaseInstantiate Phase = "instantiate" // sandbox creation
	PhaseInvoke      Phase = "invoke"      // call dispatch
)

// Kind categorizes the error
type Kind string

const (
	KindContractParse    Kind = "contract_parse"
	KindLoad             Kind = "load"
	KindConfig           Kind = "config"
	KindUnresolvedImport Kind = "unresolved_import"
	KindAmbiguousImport  Kind = "ambiguous_import"
	KindCyclicDependency Kind = "cyclic_dependency"
	KindInstantiation    Kind = "instantiation"
	KindCapability       Kind = "capability"
	KindInvocation       Kind = "invocation"
)

// Error is the structured error type used throughout the runtime.
// Component, Function, and Interface identify the failing element so the
// error is actionable without inspecting runtime internals.
type Error struct {
	Cause     error
	Phase     Phase
	Kind      Kind
	Component string
	Function  string
	Interface string
	Detail    string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Component != "" {
		b.WriteString(" component \"")
		b.WriteString(e.Component)
		b.WriteByte('"')
	}
	if e.Interface != "" {
		b.WriteString(" interface \"")
		b.WriteString(e.Interface)
		b.WriteByte('"')
	}
	if e.Function != "" {
		b.WriteString(" function \"")
		b.WriteString(e.Function)
		b.WriteByte('"')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two errors match when their
// Phase and Kind are equal, so sentinel comparison with errors.Is works
// against bare constructors.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Component sets the component name
func (b *Builder) Component(name string) *Builder {
	b.err.Component = name
	return b
}

// Function sets the function name
func (b *Builder) Function(name string) *Builder {
	b.err.Function = name
	return b
}

// Interface sets the interface name
func (b *Builder) Interface(name string) *Builder {
	b.err.Interface = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the runtime's error vocabulary

// ContractParse creates a contract parse error
func ContractParse(iface, detail string) *Error {
	return &Error{
		Phase:     PhaseContract,
		Kind:      KindContractParse,
		Interface: iface,
		Detail:    detail,
	}
}

// Load creates an artifact loading error
func Load(location, detail string, cause error) *Error {
	return &Error{
		Phase:     PhaseLoad,
		Kind:      KindLoad,
		Component: location,
		Detail:    detail,
		Cause:     cause,
	}
}

// Config creates a configuration error for a component's declared requirements
func Config(component, key string) *Error {
	return &Error{
		Phase:     PhaseInstantiate,
		Kind:      KindConfig,
		Component: component,
		Detail:    fmt.Sprintf("required config key %q not provided", key),
	}
}

// UnresolvedImport creates an error for an import with no matching exporter
func UnresolvedImport(component, iface, detail string) *Error {
	return &Error{
		Phase:     PhaseLink,
		Kind:      KindUnresolvedImport,
		Component: component,
		Interface: iface,
		Detail:    detail,
	}
}

// AmbiguousImport creates an error for an import with several matching
// exporters and no explicit binding
func AmbiguousImport(component, iface string, candidates []string) *Error {
	return &Error{
		Phase:     PhaseLink,
		Kind:      KindAmbiguousImport,
		Component: component,
		Interface: iface,
		Detail:    fmt.Sprintf("multiple exporters match: %s", strings.Join(candidates, ", ")),
	}
}

// CyclicDependency creates an error for a linking-time dependency cycle
func CyclicDependency(members []string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindCyclicDependency,
		Detail: fmt.Sprintf("dependency cycle involving: %s", strings.Join(members, ", ")),
	}
}

// Instantiation creates an instantiation error identifying the offending component
func Instantiation(component string, cause error) *Error {
	return &Error{
		Phase:     PhaseInstantiate,
		Kind:      KindInstantiation,
		Component: component,
		Detail:    "instantiate component",
		Cause:     cause,
	}
}

// Capability creates an error for a host call against a non-exposed component
func Capability(component string) *Error {
	return &Error{
		Phase:     PhaseInvoke,
		Kind:      KindCapability,
		Component: component,
		Detail:    "component is not exposed to the host",
	}
}

// Invocation creates a per-call error local to one invocation
func Invocation(component, function, detail string, cause error) *Error {
	return &Error{
		Phase:     PhaseInvoke,
		Kind:      KindInvocation,
		Component: component,
		Function:  function,
		Detail:    detail,
		Cause:     cause,
	}
}

// Trap creates an invocation error carrying a sandbox trap description
func Trap(component, function string, cause error) *Error {
	return &Error{
		Phase:     PhaseInvoke,
		Kind:      KindInvocation,
		Component: component,
		Function:  function,
		Detail:    "sandbox trapped",
		Cause:     cause,
	}
}

// SessionClosed creates the dedicated invocation error returned for calls
// against a session that has been shut down
func SessionClosed() *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindInvocation,
		Detail: "session closed",
	}
}

// IsSessionClosed reports whether err is the session-closed invocation error
func IsSessionClosed(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindInvocation && e.Detail == "session closed"
}

// KindOf returns the Kind of a structured error, or "" for foreign errors
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}
