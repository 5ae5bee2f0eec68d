package contract

import (
	"fmt"
	"regexp"
	"strings"

	"go.bytecodealliance.org/wit"

	errs "github.com/wippyai/component-host/errors"
)

// funcPattern matches "name: func(params) -> result" with an optional
// trailing semicolon.
var funcPattern = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)\s*(->\s*([a-zA-Z0-9_-]+))?\s*;?$`)

// ifacePattern matches "export ns:name@1.0.0 {" block openers.
var ifacePattern = regexp.MustCompile(`^(export|import)\s+([a-zA-Z][a-zA-Z0-9_-]*:[a-zA-Z][a-zA-Z0-9_/-]*)(@([0-9.]+))?\s*\{$`)

// configPattern matches "config key" and "config key required".
var configPattern = regexp.MustCompile(`^config\s+([a-zA-Z_][a-zA-Z0-9_-]*)(\s+required)?$`)

var primitives = map[string]bool{
	"bool": true, "u8": true, "s8": true, "u16": true, "s16": true,
	"u32": true, "s32": true, "u64": true, "s64": true,
	"f32": true, "f64": true, "char": true, "string": true,
}

// Parse reads a contract from its textual form. It fails with a contract
// parse error on malformed signatures, unknown types, and duplicate
// function names within one interface.
func Parse(text string) (*Contract, error) {
	c := &Contract{}

	var cur *Interface
	var curExport bool

	for ln, raw := range strings.Split(text, "\n") {
		line := raw
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case cur == nil && ifacePattern.MatchString(line):
			m := ifacePattern.FindStringSubmatch(line)
			iface := Interface{Name: m[2]}
			if m[4] != "" {
				v, ok := ParseVersion(m[4])
				if !ok {
					return nil, errs.ContractParse(m[2], lineDetail(ln, "invalid version %q", m[4]))
				}
				iface.Version = &v
			}
			curExport = m[1] == "export"
			if dup := findInterface(c, curExport, iface.Name); dup != nil {
				return nil, errs.ContractParse(iface.Name, lineDetail(ln, "duplicate %s interface", m[1]))
			}
			cur = &iface

		case cur != nil && line == "}":
			if curExport {
				c.Exports = append(c.Exports, *cur)
			} else {
				c.Imports = append(c.Imports, *cur)
			}
			cur = nil

		case cur != nil:
			fn, err := parseFunc(line)
			if err != nil {
				return nil, errs.ContractParse(cur.Name, lineDetail(ln, "%v", err))
			}
			if cur.Func(fn.Name) != nil {
				return nil, errs.ContractParse(cur.Name, lineDetail(ln, "duplicate function %q", fn.Name))
			}
			cur.Funcs = append(cur.Funcs, *fn)

		case configPattern.MatchString(line):
			m := configPattern.FindStringSubmatch(line)
			for _, k := range c.Config {
				if k.Name == m[1] {
					return nil, errs.ContractParse("", lineDetail(ln, "duplicate config key %q", m[1]))
				}
			}
			c.Config = append(c.Config, ConfigKey{Name: m[1], Required: m[2] != ""})

		default:
			return nil, errs.ContractParse("", lineDetail(ln, "unrecognized line %q", line))
		}
	}

	if cur != nil {
		return nil, errs.ContractParse(cur.Name, "unterminated interface block")
	}
	return c, nil
}

func findInterface(c *Contract, export bool, name string) *Interface {
	if export {
		return c.Export(name)
	}
	return c.Import(name)
}

func parseFunc(line string) (*Function, error) {
	m := funcPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, errFormat(line)
	}

	fn := &Function{Name: m[1]}

	paramsStr := strings.TrimSpace(m[2])
	if paramsStr != "" {
		for _, p := range strings.Split(paramsStr, ",") {
			name, typStr, found := strings.Cut(p, ":")
			if !found {
				return nil, errFormat(p)
			}
			t, err := parseType(strings.TrimSpace(typStr))
			if err != nil {
				return nil, err
			}
			fn.Params = append(fn.Params, Param{Name: strings.TrimSpace(name), Type: t})
		}
	}

	if m[4] != "" {
		t, err := parseType(m[4])
		if err != nil {
			return nil, err
		}
		fn.Results = []wit.Type{t}
	}

	return fn, nil
}

func parseType(s string) (wit.Type, error) {
	if !primitives[s] {
		return nil, &typeError{s}
	}
	t, err := wit.ParseType(s)
	if err != nil {
		return nil, &typeError{s}
	}
	return t, nil
}

type typeError struct{ name string }

func (e *typeError) Error() string { return "unknown type \"" + e.name + "\"" }

type formatError struct{ frag string }

func (e *formatError) Error() string { return "malformed signature \"" + e.frag + "\"" }

func errFormat(frag string) error {
	return &formatError{strings.TrimSpace(frag)}
}

func lineDetail(ln int, format string, args ...any) string {
	return fmt.Sprintf("line %d: ", ln+1) + fmt.Sprintf(format, args...)
}
