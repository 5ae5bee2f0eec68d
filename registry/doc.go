// Package registry loads component binaries and caches the compiled
// artifacts by location.
//
// A location is fetched once: concurrent loads of the same location are
// collapsed and every caller receives the same *Artifact pointer. Artifacts
// are reference counted; an artifact's compiled machine code is released
// when the last session using it shuts down.
//
// Loading validates the artifact against its embedded contract before it
// can be linked: the binary must be a core wasm module, the contract text
// must parse, every function the module imports must belong to a declared
// imported interface, and every declared export must actually be exported
// by the module.
//
// Host-implemented components register under "builtin:" locations and flow
// through the same cache and validation surface as compiled ones.
package registry
