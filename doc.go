// Package componenthost is a host-side runtime for sandboxed, pre-compiled
// WebAssembly components: it loads component binaries, links their declared
// interface contracts together, and exposes a controlled call boundary for
// the hosting application.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	componenthost/       Root package with ComponentSpec and the Memory and
//	                     Allocator boundary interfaces
//	├── session/         High-level API: load a session, invoke exposed
//	│                    components, shut down
//	├── graph/           Composition graph: import/export edge resolution and
//	│                    topological ordering
//	├── registry/        Session-scoped artifact cache and validation
//	├── contract/        Interface contract parsing and compatibility
//	├── engine/          wazero sandbox integration, import bridging, and the
//	│                    builtin (Go-implemented) sandbox
//	├── codec/           Flat ABI encoding/decoding between Go values and
//	│                    guest memory
//	├── wasmbin/         Minimal wasm binary inspection (header, custom
//	│                    sections)
//	├── conf/            TOML definition files to ComponentSpec entries
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
// Load a session from parsed component specs and invoke an exposed export:
//
//	specs, err := conf.LoadFiles("components.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sess, err := session.Load(ctx, specs, session.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Shutdown(ctx)
//
//	result, err := sess.Invoke(ctx, "greeter", "greet", "World")
//	fmt.Println(result) // "Hello, World!"
//
// # Linking Model
//
// Every component declares an interface contract: the typed functions it
// exports and the typed functions it imports from peers. Before any instance
// is created, the composition graph resolves each import to exactly one
// exporting peer (explicit bindings disambiguate when several peers export a
// compatible interface) and orders instantiation topologically. Bindings are
// fixed at link time; calls between instances flow through those fixed slots,
// never through runtime lookup.
//
// # Exposure
//
// A spec's `exposed` flag governs host-to-component visibility only. Linked
// components always reach each other through their resolved graph edges,
// whether or not either side is exposed to the host.
//
// # Thread Safety
//
// Session is safe for concurrent use. Calls into a single component instance
// are serialized: concurrent invocations of the same instance queue rather
// than interleave. Mutually recursive calls between instances are legal;
// a direct self-call on one instance is rejected rather than deadlocking.
package componenthost
