package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	host "github.com/wippyai/component-host"
)

type file struct {
	Component []componentDef `toml:"component"`
}

type componentDef struct {
	Name     string            `toml:"name"`
	Location string            `toml:"location"`
	Exposed  bool              `toml:"exposed"`
	Config   map[string]string `toml:"config"`
	Bind     map[string]string `toml:"bind"`
}

// Parse decodes one TOML definition document into component specs.
func Parse(data []byte) ([]host.ComponentSpec, error) {
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing definition: %w", err)
	}

	specs := make([]host.ComponentSpec, 0, len(f.Component))
	for i, def := range f.Component {
		spec, err := def.spec()
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i+1, err)
		}
		specs = append(specs, spec)
	}
	return dedupe(specs)
}

func (d componentDef) spec() (host.ComponentSpec, error) {
	if d.Location == "" {
		return host.ComponentSpec{}, fmt.Errorf("location is required")
	}
	name := d.Name
	if name == "" {
		name = stem(d.Location)
	}
	if name == "" {
		return host.ComponentSpec{}, fmt.Errorf("cannot derive a name from %q", d.Location)
	}

	spec := host.ComponentSpec{
		Name:    name,
		URI:     d.Location,
		Exposed: d.Exposed,
	}
	if len(d.Bind) > 0 {
		spec.Bindings = d.Bind
	}

	// Sorted for deterministic spec comparison; injection order is not
	// meaningful.
	keys := make([]string, 0, len(d.Config))
	for k := range d.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		spec.Config = append(spec.Config, host.ConfigEntry{Key: k, Value: d.Config[k]})
	}
	return spec, nil
}

// LoadFiles reads definitions from each path. TOML files contribute their
// component lists; a bare .wasm path becomes an implicit exposed component
// named after its file stem.
func LoadFiles(paths ...string) ([]host.ComponentSpec, error) {
	var specs []host.ComponentSpec
	for _, path := range paths {
		if strings.HasSuffix(path, ".wasm") {
			specs = append(specs, host.ComponentSpec{
				Name:    stem(path),
				URI:     path,
				Exposed: true,
			})
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		specs = append(specs, parsed...)
	}
	return dedupe(specs)
}

func dedupe(specs []host.ComponentSpec) ([]host.ComponentSpec, error) {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate component name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return specs, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
