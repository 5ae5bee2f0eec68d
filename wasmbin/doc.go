// Package wasmbin provides lightweight inspection of WebAssembly binaries
// without decoding them. The runtime needs exactly two things from a binary
// before handing it to the execution engine: confirmation that it is a core
// wasm module, and the contents of the custom section that carries the
// component's interface contract.
//
// Full decoding, validation, and execution are the engine's job. This
// package only walks the section framing, which is cheap and requires no
// allocation beyond the returned slice headers.
package wasmbin
