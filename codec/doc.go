// Package codec translates between host Go values and the flat call ABI
// used at the sandbox boundary.
//
// Scalars travel directly on the call stack: 32-bit and smaller types
// occupy one i32 slot, 64-bit integers one i64 slot, and floats their
// matching slot. Strings are lowered by copying the bytes into the
// callee's linear memory through its exported allocator and passing a
// pointer/length pair; a string result comes back as a single i64 packing
// the pointer in the high 32 bits and the length in the low 32 bits.
//
// Coerce normalizes loosely typed host values (for example numbers decoded
// from JSON as float64) to the exact Go type a declared parameter expects,
// rejecting anything lossy or out of range. It runs before the sandbox is
// entered, so a bad argument never disturbs instance state.
package codec
