package componenthost

// ConfigEntry is one configuration key/value pair. Entries keep the order
// they were declared in so injection into a sandbox is deterministic.
type ConfigEntry struct {
	Key   string
	Value string
}

// ComponentSpec describes one configured component within a session.
// Specs are produced by a configuration collaborator (see the conf package
// for the TOML reference implementation) and are immutable after parse.
type ComponentSpec struct {
	// Name identifies the component; unique within a session.
	Name string

	// URI locates the component artifact. Supported schemes are decided by
	// the registry's Fetcher; "builtin:<name>" addresses a registered
	// Go-implemented component.
	URI string

	// Exposed makes the component's exports reachable from the hosting
	// application. It has no effect on component-to-component visibility.
	Exposed bool

	// Config holds values injected into the instance at instantiation.
	Config []ConfigEntry

	// Bindings maps an imported interface name to the name of the component
	// that must satisfy it, disambiguating when several peers export a
	// compatible interface.
	Bindings map[string]string
}

// ConfigValue returns the configured value for key.
func (s *ComponentSpec) ConfigValue(key string) (string, bool) {
	for _, e := range s.Config {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// ConfigMap returns the configuration as a map. Later duplicate keys win,
// matching injection order.
func (s *ComponentSpec) ConfigMap() map[string]string {
	if len(s.Config) == 0 {
		return nil
	}
	m := make(map[string]string, len(s.Config))
	for _, e := range s.Config {
		m[e.Key] = e.Value
	}
	return m
}
