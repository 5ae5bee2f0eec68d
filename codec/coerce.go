package codec

import (
	"fmt"
	"math"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/component-host/contract"
)

// Coerce normalizes value to the canonical Go representation of the
// declared type t. Numeric conversions must be exact: out-of-range values
// and fractional floats are rejected rather than truncated.
func Coerce(t wit.Type, value any) (any, error) {
	switch t.(type) {
	case wit.Bool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case wit.U8:
		if v, ok := coerceUnsigned(value, math.MaxUint8); ok {
			return uint8(v), nil
		}
	case wit.U16:
		if v, ok := coerceUnsigned(value, math.MaxUint16); ok {
			return uint16(v), nil
		}
	case wit.U32:
		if v, ok := coerceUnsigned(value, math.MaxUint32); ok {
			return uint32(v), nil
		}
	case wit.U64:
		if v, ok := coerceUnsigned(value, math.MaxUint64); ok {
			return v, nil
		}
	case wit.S8:
		if v, ok := coerceSigned(value, math.MinInt8, math.MaxInt8); ok {
			return int8(v), nil
		}
	case wit.S16:
		if v, ok := coerceSigned(value, math.MinInt16, math.MaxInt16); ok {
			return int16(v), nil
		}
	case wit.S32:
		if v, ok := coerceSigned(value, math.MinInt32, math.MaxInt32); ok {
			return int32(v), nil
		}
	case wit.S64:
		if v, ok := coerceSigned(value, math.MinInt64, math.MaxInt64); ok {
			return v, nil
		}
	case wit.F32:
		switch v := value.(type) {
		case float32:
			return v, nil
		case float64:
			return float32(v), nil
		}
	case wit.F64:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		}
	case wit.Char:
		if v, ok := coerceSigned(value, 0, math.MaxInt32); ok && utf8.ValidRune(rune(v)) {
			return rune(v), nil
		}
	case wit.String:
		if s, ok := value.(string); ok {
			if !utf8.ValidString(s) {
				return nil, fmt.Errorf("string argument is not valid UTF-8")
			}
			return s, nil
		}
	default:
		return nil, fmt.Errorf("unsupported parameter type %s", contract.TypeName(t))
	}
	return nil, fmt.Errorf("cannot use %T as %s", value, contract.TypeName(t))
}

// CoerceArgs coerces each argument to the corresponding declared parameter
// type. len(args) must equal len(fn.Params); the caller checks arity first.
func CoerceArgs(fn *contract.Function, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, arg := range args {
		v, err := Coerce(fn.Params[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", fn.Params[i].Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// coerceUnsigned handles JSON decoded numbers (float64) and other numeric
// types, accepting only values representable in [0, max].
func coerceUnsigned(value any, max uint64) (uint64, bool) {
	var u uint64
	switch v := value.(type) {
	case uint8:
		u = uint64(v)
	case uint16:
		u = uint64(v)
	case uint32:
		u = uint64(v)
	case uint64:
		u = v
	case uint:
		u = uint64(v)
	case int8:
		if v < 0 {
			return 0, false
		}
		u = uint64(v)
	case int16:
		if v < 0 {
			return 0, false
		}
		u = uint64(v)
	case int32:
		if v < 0 {
			return 0, false
		}
		u = uint64(v)
	case int64:
		if v < 0 {
			return 0, false
		}
		u = uint64(v)
	case int:
		if v < 0 {
			return 0, false
		}
		u = uint64(v)
	case float64:
		if v < 0 || v != math.Trunc(v) || v > float64(max) {
			return 0, false
		}
		u = uint64(v)
	case float32:
		f := float64(v)
		if f < 0 || f != math.Trunc(f) || f > float64(max) {
			return 0, false
		}
		u = uint64(f)
	default:
		return 0, false
	}
	if u > max {
		return 0, false
	}
	return u, true
}

// coerceSigned accepts only values exactly representable in [min, max].
func coerceSigned(value any, min, max int64) (int64, bool) {
	var s int64
	switch v := value.(type) {
	case int8:
		s = int64(v)
	case int16:
		s = int64(v)
	case int32:
		s = int64(v)
	case int64:
		s = v
	case int:
		s = int64(v)
	case uint8:
		s = int64(v)
	case uint16:
		s = int64(v)
	case uint32:
		s = int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		s = int64(v)
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		s = int64(v)
	case float64:
		if v != math.Trunc(v) || v < float64(min) || v > float64(max) {
			return 0, false
		}
		s = int64(v)
	case float32:
		f := float64(v)
		if f != math.Trunc(f) || f < float64(min) || f > float64(max) {
			return 0, false
		}
		s = int64(f)
	default:
		return 0, false
	}
	if s < min || s > max {
		return 0, false
	}
	return s, true
}
