// Package session assembles compositions and owns their lifecycle.
//
// Load takes a set of component definitions, loads and validates every
// artifact, resolves the composition graph, and instantiates components
// dependencies-first. Activation is all or nothing: if any instance fails,
// everything already created is torn down and the error reports the
// component at fault.
//
// A live session exposes exactly the components marked exposed; Invoke on
// anything else is a capability error no argument can get around. Arguments
// are checked against the target's contract before its sandbox is entered,
// so a malformed call never costs the instance anything.
//
// Calls crossing between components serialize per target instance. A call
// chain that re-enters an instance it already holds proceeds instead of
// deadlocking; a component calling itself directly is rejected.
package session
