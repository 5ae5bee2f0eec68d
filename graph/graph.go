package graph

import (
	"fmt"
	"sort"

	host "github.com/wippyai/component-host"
	"github.com/wippyai/component-host/contract"
	errs "github.com/wippyai/component-host/errors"
)

// Binding connects one component's imported interface to the component
// that serves it. Interface is the base name without version.
type Binding struct {
	Importer  string
	Exporter  string
	Interface string
}

// Graph is a resolved, acyclic composition.
type Graph struct {
	// Order lists component names dependencies-first.
	Order []string

	// Bindings holds every resolved import edge.
	Bindings []Binding

	exposed    map[string]bool
	byImporter map[string]map[string]string
}

// ExporterFor returns the component bound to importer's named imported
// interface.
func (g *Graph) ExporterFor(importer, iface string) (string, bool) {
	exporter, ok := g.byImporter[importer][iface]
	return exporter, ok
}

// Build resolves every import of every component against the composition
// and returns the dependency graph in instantiation order.
func Build(specs []host.ComponentSpec, contracts map[string]*contract.Contract) (*Graph, error) {
	g := &Graph{
		exposed:    make(map[string]bool),
		byImporter: make(map[string]map[string]string),
	}

	index := make(map[string]int, len(specs))
	for i, s := range specs {
		if _, ok := index[s.Name]; ok {
			return nil, errs.Load(s.Name, "duplicate component name", nil)
		}
		if contracts[s.Name] == nil {
			return nil, errs.Load(s.Name, "component has no contract", nil)
		}
		index[s.Name] = i
		g.exposed[s.Name] = s.Exposed
	}

	for _, s := range specs {
		c := contracts[s.Name]
		for i := range c.Imports {
			imp := &c.Imports[i]
			exporter, err := resolve(&s, imp, specs, contracts)
			if err != nil {
				return nil, err
			}
			g.addBinding(s.Name, exporter, imp.Name)
		}
	}

	order, err := toposort(specs, index, g.Bindings)
	if err != nil {
		return nil, err
	}
	g.Order = order
	return g, nil
}

func (g *Graph) addBinding(importer, exporter, iface string) {
	g.Bindings = append(g.Bindings, Binding{Importer: importer, Exporter: exporter, Interface: iface})
	if g.byImporter[importer] == nil {
		g.byImporter[importer] = make(map[string]string)
	}
	g.byImporter[importer][iface] = exporter
}

// resolve picks the exporter for one imported interface: the explicitly
// bound component when the definition names one, otherwise the unique
// compatible exporter among the other components.
func resolve(s *host.ComponentSpec, imp *contract.Interface, specs []host.ComponentSpec, contracts map[string]*contract.Contract) (string, error) {
	if bound, ok := s.Bindings[imp.Name]; ok {
		c := contracts[bound]
		if c == nil {
			return "", errs.UnresolvedImport(s.Name, imp.String(),
				fmt.Sprintf("bound to unknown component %q", bound))
		}
		export := c.Export(imp.Name)
		if export == nil {
			return "", errs.UnresolvedImport(s.Name, imp.String(),
				fmt.Sprintf("component %q does not export it", bound))
		}
		if err := contract.Satisfies(export, imp); err != nil {
			return "", errs.UnresolvedImport(s.Name, imp.String(),
				fmt.Sprintf("component %q: %v", bound, err))
		}
		return bound, nil
	}

	var candidates []string
	var mismatch error
	for _, other := range specs {
		if other.Name == s.Name {
			continue
		}
		export := contracts[other.Name].Export(imp.Name)
		if export == nil {
			continue
		}
		if err := contract.Satisfies(export, imp); err != nil {
			mismatch = err
			continue
		}
		candidates = append(candidates, other.Name)
	}

	switch len(candidates) {
	case 0:
		detail := "no component exports it"
		if mismatch != nil {
			detail = mismatch.Error()
		}
		return "", errs.UnresolvedImport(s.Name, imp.String(), detail)
	case 1:
		return candidates[0], nil
	default:
		sort.Strings(candidates)
		return "", errs.AmbiguousImport(s.Name, imp.String(), candidates)
	}
}

// toposort runs Kahn's algorithm over the binding edges. Components with
// equal standing keep their definition order, so instantiation order is
// deterministic.
func toposort(specs []host.ComponentSpec, index map[string]int, bindings []Binding) ([]string, error) {
	indegree := make(map[string]int, len(specs))
	dependents := make(map[string][]string)
	for _, s := range specs {
		indegree[s.Name] = 0
	}
	for _, b := range bindings {
		if b.Importer == b.Exporter {
			// A self-edge can only come from an explicit self-binding.
			return nil, errs.CyclicDependency([]string{b.Importer})
		}
		indegree[b.Importer]++
		dependents[b.Exporter] = append(dependents[b.Exporter], b.Importer)
	}

	var ready []string
	for _, s := range specs {
		if indegree[s.Name] == 0 {
			ready = append(ready, s.Name)
		}
	}

	order := make([]string, 0, len(specs))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(specs) {
		var members []string
		for name, deg := range indegree {
			if deg > 0 {
				members = append(members, name)
			}
		}
		sort.Slice(members, func(i, j int) bool { return index[members[i]] < index[members[j]] })
		return nil, errs.CyclicDependency(members)
	}
	return order, nil
}

// DOT renders the composition in Graphviz dot format. Exposed components
// are drawn bold; edges point from importer to the exporter serving it.
func (g *Graph) DOT() string {
	out := "digraph composition {\n"
	for _, name := range g.Order {
		attr := ""
		if g.exposed[name] {
			attr = " [style=bold]"
		}
		out += fmt.Sprintf("  %q%s\n", name, attr)
	}
	for _, b := range g.Bindings {
		out += fmt.Sprintf("  %q -> %q [label=%q]\n", b.Importer, b.Exporter, b.Interface)
	}
	return out + "}\n"
}
