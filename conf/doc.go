// Package conf reads composition definitions.
//
// A definition file is TOML:
//
//	[[component]]
//	name = "greeter"
//	location = "greeter.wasm"
//	exposed = true
//
//	[component.config]
//	greeting = "Aloha"
//
//	[[component]]
//	location = "clock.wasm"
//
// name defaults to the location's file stem. bind maps an imported
// interface to a specific component when automatic resolution would be
// ambiguous:
//
//	[component.bind]
//	"demo:store" = "primary-store"
//
// LoadFiles also accepts bare .wasm paths and turns each into an implicit
// exposed component, so a single binary can run without writing a
// definition file first.
package conf
