// Package graph resolves a composition's import bindings and computes its
// instantiation order.
//
// Every imported interface of every component is bound to exactly one
// exporting component before anything is instantiated. An explicit binding
// in the component's definition wins; otherwise the single compatible
// exporter in the composition is chosen. No compatible exporter is an
// unresolved-import error and more than one is an ambiguous-import error;
// ambiguity is never broken by ordering or by luck.
//
// The resulting dependency graph must be acyclic. Order lists components
// dependencies-first, so walking it forward instantiates every component
// after everything it imports from.
package graph
