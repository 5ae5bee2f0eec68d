// Package contract parses and compares component interface contracts.
//
// A contract declares the interfaces a component exports to peers and the
// host, the interfaces it imports from peers, and the configuration keys it
// reads. The textual form is WIT-flavored:
//
//	export demo:greeter@1.0.0 {
//	  greet: func(name: string) -> string
//	}
//	import demo:clock@1.0.0 {
//	  now: func() -> u64
//	}
//	config greeting
//	config api-key required
//
// Parameter and result types are the WIT primitive types (bool, u8..u64,
// s8..s64, f32, f64, char, string). Two function signatures are compatible
// only when they match exactly; interface versions match when major and
// minor are equal and the exporter's patch level is at least the importer's.
package contract
