// Package errors provides structured error types for the component host.
//
// Errors carry a Phase (where in the lifecycle), a Kind (what went wrong),
// and the identity of the failing element (component, interface, function).
// Link-phase errors abort session loading before any instance runs; invoke
// errors are local to one call.
//
// Match errors by category with the standard library:
//
//	if errors.Is(err, errs.Capability("")) {
//	    // host tried to call a non-exposed component
//	}
package errors
