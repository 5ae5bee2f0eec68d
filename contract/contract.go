package contract

import (
	"fmt"
	"strings"

	"go.bytecodealliance.org/wit"
)

// Param is one typed, named function parameter
type Param struct {
	Name string
	Type wit.Type
}

// Function is a single typed function signature within an interface
type Function struct {
	Name    string
	Params  []Param
	Results []wit.Type // zero or one result
}

// Signature renders the function as "name: func(a: string) -> string"
func (f *Function) Signature() string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteString(": func(")
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(TypeName(p.Type))
	}
	b.WriteByte(')')
	if len(f.Results) == 1 {
		b.WriteString(" -> ")
		b.WriteString(TypeName(f.Results[0]))
	}
	return b.String()
}

// Interface is a named set of function signatures
type Interface struct {
	Name    string   // base name without version, e.g. "demo:greeter"
	Version *Version // nil when unversioned
	Funcs   []Function
}

// String returns the interface name with its version suffix, if any
func (i *Interface) String() string {
	if i.Version == nil {
		return i.Name
	}
	return i.Name + "@" + i.Version.String()
}

// Func returns the named function, or nil
func (i *Interface) Func(name string) *Function {
	for idx := range i.Funcs {
		if i.Funcs[idx].Name == name {
			return &i.Funcs[idx]
		}
	}
	return nil
}

// ConfigKey is one configuration key the component reads
type ConfigKey struct {
	Name     string
	Required bool
}

// Contract is a component's full declared interface surface.
// Derived once per distinct artifact and shared read-only between every
// spec referencing that artifact.
type Contract struct {
	Exports []Interface
	Imports []Interface
	Config  []ConfigKey
}

// Export returns the exported interface with the given base name, or nil
func (c *Contract) Export(name string) *Interface {
	for i := range c.Exports {
		if c.Exports[i].Name == name {
			return &c.Exports[i]
		}
	}
	return nil
}

// Import returns the imported interface with the given base name, or nil
func (c *Contract) Import(name string) *Interface {
	for i := range c.Imports {
		if c.Imports[i].Name == name {
			return &c.Imports[i]
		}
	}
	return nil
}

// ExportedFunc locates a function by name across all exported interfaces.
// It returns the owning interface and the function, or an error when the
// name is absent or appears in more than one exported interface.
func (c *Contract) ExportedFunc(name string) (*Interface, *Function, error) {
	var iface *Interface
	var fn *Function
	for i := range c.Exports {
		if f := c.Exports[i].Func(name); f != nil {
			if fn != nil {
				return nil, nil, fmt.Errorf("function %q exported by both %s and %s",
					name, iface.Name, c.Exports[i].Name)
			}
			iface = &c.Exports[i]
			fn = f
		}
	}
	if fn == nil {
		return nil, nil, fmt.Errorf("function %q not exported", name)
	}
	return iface, fn, nil
}

// RequiredConfig returns the names of config keys declared required
func (c *Contract) RequiredConfig() []string {
	var keys []string
	for _, k := range c.Config {
		if k.Required {
			keys = append(keys, k.Name)
		}
	}
	return keys
}

// Satisfies reports whether export can serve imp: same base name, compatible
// version, and every imported function present with an exactly matching
// signature. Extra exported functions are allowed; the importer only binds
// the functions it names.
func Satisfies(export, imp *Interface) error {
	if export.Name != imp.Name {
		return fmt.Errorf("interface name %q does not match %q", export.Name, imp.Name)
	}
	if imp.Version != nil {
		if export.Version == nil {
			return fmt.Errorf("import requires version %s but export is unversioned", imp.Version)
		}
		if !export.Version.Compatible(*imp.Version) {
			return fmt.Errorf("export version %s is not compatible with requested %s",
				export.Version, imp.Version)
		}
	}
	for i := range imp.Funcs {
		want := &imp.Funcs[i]
		got := export.Func(want.Name)
		if got == nil {
			return fmt.Errorf("function %q not exported by %s", want.Name, export.String())
		}
		if !sameSignature(got, want) {
			return fmt.Errorf("function %q signature mismatch: have %s, want %s",
				want.Name, got.Signature(), want.Signature())
		}
	}
	return nil
}

// sameSignature compares parameter and result types exactly.
// Parameter names are documentation and do not participate.
func sameSignature(a, b *Function) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if TypeName(a.Params[i].Type) != TypeName(b.Params[i].Type) {
			return false
		}
	}
	for i := range a.Results {
		if TypeName(a.Results[i]) != TypeName(b.Results[i]) {
			return false
		}
	}
	return true
}

// TypeName renders a WIT primitive type as its textual name
func TypeName(t wit.Type) string {
	switch t.(type) {
	case wit.Bool:
		return "bool"
	case wit.U8:
		return "u8"
	case wit.S8:
		return "s8"
	case wit.U16:
		return "u16"
	case wit.S16:
		return "s16"
	case wit.U32:
		return "u32"
	case wit.S32:
		return "s32"
	case wit.U64:
		return "u64"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	case wit.Char:
		return "char"
	case wit.String:
		return "string"
	default:
		return fmt.Sprintf("%T", t)
	}
}
