package codec

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	host "github.com/wippyai/component-host"
	"github.com/wippyai/component-host/contract"
)

// FlatParamTypes returns the wazero value types of a function's lowered
// parameter list. A string parameter occupies two i32 slots (pointer and
// length); every other supported type occupies one slot.
func FlatParamTypes(fn *contract.Function) []api.ValueType {
	var types []api.ValueType
	for _, p := range fn.Params {
		types = append(types, flatTypes(p.Type)...)
	}
	return types
}

// FlatResultTypes returns the wazero value types of a function's lowered
// result. A string result is a single i64 packing pointer and length.
func FlatResultTypes(fn *contract.Function) []api.ValueType {
	var types []api.ValueType
	for _, t := range fn.Results {
		if _, ok := t.(wit.String); ok {
			types = append(types, api.ValueTypeI64)
			continue
		}
		types = append(types, flatTypes(t)...)
	}
	return types
}

func flatTypes(t wit.Type) []api.ValueType {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return []api.ValueType{api.ValueTypeI32}
	case wit.U64, wit.S64:
		return []api.ValueType{api.ValueTypeI64}
	case wit.F32:
		return []api.ValueType{api.ValueTypeF32}
	case wit.F64:
		return []api.ValueType{api.ValueTypeF64}
	case wit.String:
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	default:
		// Parse already restricts contracts to the primitive types above.
		return []api.ValueType{api.ValueTypeI64}
	}
}

// LowerArgs lowers coerced Go values onto a flat call stack, copying string
// bytes into the callee's memory through its allocator. The returned release
// function frees those allocations and must be called after the call returns
// and any string results have been lifted.
func LowerArgs(mem host.Memory, alloc host.Allocator, fn *contract.Function, args []any) ([]uint64, func(), error) {
	stack := make([]uint64, 0, len(args))
	type strAlloc struct{ ptr, size uint32 }
	var allocs []strAlloc

	release := func() {
		for _, a := range allocs {
			alloc.Free(a.ptr, a.size, 1)
		}
	}

	for i, arg := range args {
		if s, ok := arg.(string); ok {
			if _, isStr := fn.Params[i].Type.(wit.String); !isStr {
				release()
				return nil, nil, fmt.Errorf("argument %q: unexpected string", fn.Params[i].Name)
			}
			ptr, length, err := lowerString(mem, alloc, s)
			if err != nil {
				release()
				return nil, nil, fmt.Errorf("argument %q: %w", fn.Params[i].Name, err)
			}
			if length > 0 {
				allocs = append(allocs, strAlloc{ptr, length})
			}
			stack = append(stack, uint64(ptr), uint64(length))
			continue
		}

		v, err := lowerScalar(arg)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("argument %q: %w", fn.Params[i].Name, err)
		}
		stack = append(stack, v)
	}

	return stack, release, nil
}

// lowerString copies s into the callee's linear memory and returns the
// pointer and byte length. Empty strings allocate nothing.
func lowerString(mem host.Memory, alloc host.Allocator, s string) (uint32, uint32, error) {
	if len(s) > math.MaxUint32 {
		return 0, 0, fmt.Errorf("string of %d bytes exceeds addressable memory", len(s))
	}
	if len(s) == 0 {
		return 0, 0, nil
	}
	ptr, err := alloc.Alloc(uint32(len(s)), 1)
	if err != nil {
		return 0, 0, fmt.Errorf("allocating %d bytes: %w", len(s), err)
	}
	if err := mem.Write(ptr, []byte(s)); err != nil {
		alloc.Free(ptr, uint32(len(s)), 1)
		return 0, 0, err
	}
	return ptr, uint32(len(s)), nil
}

// lowerScalar encodes a canonical Go scalar as a raw stack value using the
// same bit patterns wazero's api.Encode helpers produce.
func lowerScalar(arg any) (uint64, error) {
	switch v := arg.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	case int8:
		return uint64(uint32(int32(v))), nil
	case int16:
		return uint64(uint32(int32(v))), nil
	case int32:
		return uint64(uint32(v)), nil
	case int64:
		return uint64(v), nil
	case float32:
		return uint64(math.Float32bits(v)), nil
	case float64:
		return math.Float64bits(v), nil
	default:
		return 0, fmt.Errorf("cannot lower %T", arg)
	}
}

// LiftResult lifts a single raw stack value back to the Go representation
// of the declared result type. String results are read from the callee's
// memory at the packed pointer/length location.
func LiftResult(mem host.Memory, t wit.Type, raw uint64) (any, error) {
	switch t.(type) {
	case wit.Bool:
		return raw&1 != 0, nil
	case wit.U8:
		return uint8(raw), nil
	case wit.U16:
		return uint16(raw), nil
	case wit.U32:
		return uint32(raw), nil
	case wit.U64:
		return raw, nil
	case wit.S8:
		return int8(raw), nil
	case wit.S16:
		return int16(raw), nil
	case wit.S32:
		return int32(raw), nil
	case wit.S64:
		return int64(raw), nil
	case wit.F32:
		return math.Float32frombits(uint32(raw)), nil
	case wit.F64:
		return math.Float64frombits(raw), nil
	case wit.Char:
		r := rune(int32(raw))
		if !utf8.ValidRune(r) {
			return nil, fmt.Errorf("result is not a valid char: %#x", raw)
		}
		return r, nil
	case wit.String:
		return liftString(mem, uint32(raw>>32), uint32(raw))
	default:
		return nil, fmt.Errorf("unsupported result type %s", contract.TypeName(t))
	}
}

// PackString packs a string's pointer and length into the single i64 a
// string result occupies on the stack.
func PackString(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

func liftString(mem host.Memory, ptr, length uint32) (string, error) {
	if length == 0 {
		return "", nil
	}
	b, err := mem.Read(ptr, length)
	if err != nil {
		return "", fmt.Errorf("reading string result: %w", err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("string result is not valid UTF-8")
	}
	return string(b), nil
}

// LiftArgs lifts a flat call stack received from a calling sandbox back to
// Go values, reading string bytes out of the caller's memory. It is the
// inverse of LowerArgs and runs on the host side of an import bridge.
func LiftArgs(mem host.Memory, fn *contract.Function, stack []uint64) ([]any, error) {
	args := make([]any, 0, len(fn.Params))
	pos := 0
	for i := range fn.Params {
		p := &fn.Params[i]
		if _, ok := p.Type.(wit.String); ok {
			if pos+2 > len(stack) {
				return nil, fmt.Errorf("argument %q: call stack too short", p.Name)
			}
			s, err := liftString(mem, uint32(stack[pos]), uint32(stack[pos+1]))
			if err != nil {
				return nil, fmt.Errorf("argument %q: %w", p.Name, err)
			}
			args = append(args, s)
			pos += 2
			continue
		}
		if pos >= len(stack) {
			return nil, fmt.Errorf("argument %q: call stack too short", p.Name)
		}
		v, err := LiftResult(mem, p.Type, stack[pos])
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", p.Name, err)
		}
		args = append(args, v)
		pos++
	}
	return args, nil
}

// LowerResult lowers a Go result value produced by an exporting component
// onto the calling sandbox's stack. String results are copied into the
// caller's memory and packed as pointer/length.
func LowerResult(mem host.Memory, alloc host.Allocator, t wit.Type, value any) (uint64, error) {
	v, err := Coerce(t, value)
	if err != nil {
		return 0, err
	}
	if s, ok := v.(string); ok {
		ptr, length, err := lowerString(mem, alloc, s)
		if err != nil {
			return 0, err
		}
		return PackString(ptr, length), nil
	}
	return lowerScalar(v)
}
