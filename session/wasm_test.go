package session

import (
	"context"
	"testing"

	host "github.com/wippyai/component-host"
	errs "github.com/wippyai/component-host/errors"
	"github.com/wippyai/component-host/registry"
	"github.com/wippyai/component-host/wasmbin"
)

// Hand-assembled core modules standing in for compiled components. Each
// follows the flat ABI conventions: exported "memory", a bump allocator
// under "alloc", contract functions under "iface#fn", strings as
// (ptr, len) pairs packed into one i64 on return. The wat equivalent is
// noted above each body.

func uleb(v int) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func wasmCat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func wasmSection(id byte, payload []byte) []byte {
	return wasmCat([]byte{id}, uleb(len(payload)), payload)
}

func wasmVec(count int, payload []byte) []byte {
	return wasmCat(uleb(count), payload)
}

func wasmName(s string) []byte {
	return wasmCat(uleb(len(s)), []byte(s))
}

// wasmBody prefixes one function body with an empty locals vector.
func wasmBody(code ...byte) []byte {
	body := append([]byte{0x00}, code...)
	return wasmCat(uleb(len(body)), body)
}

var (
	// type 0: (func (param i32) (result i32))
	// type 1: (func (param i32 i32) (result i64))
	abiTypes = wasmSection(1, wasmVec(2, wasmCat(
		[]byte{0x60, 0x01, 0x7F, 0x01, 0x7F},
		[]byte{0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7E},
	)))

	// (memory 1)
	abiMemory = wasmSection(5, wasmVec(1, []byte{0x00, 0x01}))

	// (global (mut i32) (i32.const 8)), the bump allocator cursor
	abiGlobal = wasmSection(6, wasmVec(1, []byte{0x7F, 0x01, 0x41, 0x08, 0x0B}))

	// (func $alloc (param i32) (result i32)
	//   global.get 0  global.get 0  local.get 0  i32.add  global.set 0)
	allocBody = wasmBody(0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x6A, 0x24, 0x00, 0x0B)
)

func buildWasm(t *testing.T, contractText string, sections ...[]byte) []byte {
	t.Helper()
	mod := wasmCat(append([][]byte{{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}}, sections...)...)
	out, err := wasmbin.AppendCustomSection(mod, wasmbin.ContractSection, []byte(contractText))
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// echoWasm returns its string argument unchanged: the packed result
// points back at the lowered argument bytes.
func echoWasm(t *testing.T) []byte {
	funcs := wasmSection(3, wasmVec(2, []byte{0x00, 0x01}))
	exports := wasmSection(7, wasmVec(3, wasmCat(
		wasmName("memory"), []byte{0x02, 0x00},
		wasmName("alloc"), []byte{0x00, 0x00},
		wasmName("demo:echo#echo"), []byte{0x00, 0x01},
	)))
	// (func $echo (param i32 i32) (result i64)
	//   local.get 0  i64.extend_i32_u  i64.const 32  i64.shl
	//   local.get 1  i64.extend_i32_u  i64.or)
	code := wasmSection(10, wasmVec(2, wasmCat(
		allocBody,
		wasmBody(0x20, 0x00, 0xAD, 0x42, 0x20, 0x86, 0x20, 0x01, 0xAD, 0x84, 0x0B),
	)))
	return buildWasm(t, `
export demo:echo@1.0.0 {
  echo: func(s: string) -> string
}
`, abiTypes, funcs, abiMemory, abiGlobal, exports, code)
}

// shoutWasm forwards its argument through its imported echo function, so
// a call hops guest -> bridge -> peer guest and back.
func shoutWasm(t *testing.T) []byte {
	imports := wasmSection(2, wasmVec(1, wasmCat(
		wasmName("demo:echo"), wasmName("echo"), []byte{0x00, 0x01},
	)))
	funcs := wasmSection(3, wasmVec(2, []byte{0x00, 0x01}))
	exports := wasmSection(7, wasmVec(3, wasmCat(
		wasmName("memory"), []byte{0x02, 0x00},
		wasmName("alloc"), []byte{0x00, 0x01},
		wasmName("demo:shout#shout"), []byte{0x00, 0x02},
	)))
	// (func $shout (param i32 i32) (result i64)
	//   local.get 0  local.get 1  call $echo)
	code := wasmSection(10, wasmVec(2, wasmCat(
		allocBody,
		wasmBody(0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0B),
	)))
	return buildWasm(t, `
export demo:shout@1.0.0 {
  shout: func(s: string) -> string
}
import demo:echo@1.0.0 {
  echo: func(s: string) -> string
}
`, abiTypes, imports, funcs, abiMemory, abiGlobal, exports, code)
}

// cfgWasm resolves its argument as a config key through the config store
// bridge.
func cfgWasm(t *testing.T) []byte {
	imports := wasmSection(2, wasmVec(1, wasmCat(
		wasmName(registry.ConfigModule), wasmName("get"), []byte{0x00, 0x01},
	)))
	funcs := wasmSection(3, wasmVec(2, []byte{0x00, 0x01}))
	exports := wasmSection(7, wasmVec(3, wasmCat(
		wasmName("memory"), []byte{0x02, 0x00},
		wasmName("alloc"), []byte{0x00, 0x01},
		wasmName("demo:cfg#lookup"), []byte{0x00, 0x02},
	)))
	// (func $lookup (param i32 i32) (result i64)
	//   local.get 0  local.get 1  call $get)
	code := wasmSection(10, wasmVec(2, wasmCat(
		allocBody,
		wasmBody(0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0B),
	)))
	return buildWasm(t, `
export demo:cfg@1.0.0 {
  lookup: func(key: string) -> string
}
config greeting
`, abiTypes, imports, funcs, abiMemory, abiGlobal, exports, code)
}

func mustLoadWasm(t *testing.T, specs []host.ComponentSpec, binaries map[string][]byte) *Session {
	t.Helper()
	fetch := registry.FetcherFunc(func(_ context.Context, location string) ([]byte, error) {
		data, ok := binaries[location]
		if !ok {
			return nil, errs.Load(location, "no such binary", nil)
		}
		return data, nil
	})
	sess, err := Load(context.Background(), specs, Options{Fetcher: fetch})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { _ = sess.Shutdown(context.Background()) })
	return sess
}

func TestWasmGuestStringCall(t *testing.T) {
	sess := mustLoadWasm(t,
		[]host.ComponentSpec{{Name: "echo", URI: "echo.wasm", Exposed: true}},
		map[string][]byte{"echo.wasm": echoWasm(t)})

	got, err := sess.Invoke(context.Background(), "echo", "echo", "round trip")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "round trip" {
		t.Errorf("echo = %q", got)
	}

	// Arity errors stay outside the sandbox for compiled guests too.
	if _, err := sess.Invoke(context.Background(), "echo", "echo"); err == nil {
		t.Error("missing argument accepted")
	}
	info, err := sess.Component("echo")
	if err != nil {
		t.Fatal(err)
	}
	if info.Calls != 1 {
		t.Errorf("calls = %d", info.Calls)
	}
}

func TestWasmGuestImportBridge(t *testing.T) {
	sess := mustLoadWasm(t, []host.ComponentSpec{
		{Name: "echo", URI: "echo.wasm"},
		{Name: "shout", URI: "shout.wasm", Exposed: true},
	}, map[string][]byte{
		"echo.wasm":  echoWasm(t),
		"shout.wasm": shoutWasm(t),
	})

	// shout carries no string logic of its own: the value must cross into
	// the echo guest through the import bridge and come back intact.
	got, err := sess.Invoke(context.Background(), "shout", "shout", "From Wasm")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "From Wasm" {
		t.Errorf("shout = %q", got)
	}

	// echo is linked but not exposed.
	if _, err := sess.Invoke(context.Background(), "echo", "echo", "x"); errs.KindOf(err) != errs.KindCapability {
		t.Errorf("Invoke echo = %v", err)
	}
}

func TestWasmGuestConfigStore(t *testing.T) {
	sess := mustLoadWasm(t, []host.ComponentSpec{{
		Name:    "cfg",
		URI:     "cfg.wasm",
		Exposed: true,
		Config:  []host.ConfigEntry{{Key: "greeting", Value: "Aloha"}},
	}}, map[string][]byte{"cfg.wasm": cfgWasm(t)})

	got, err := sess.Invoke(context.Background(), "cfg", "lookup", "greeting")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "Aloha" {
		t.Errorf("lookup = %q", got)
	}

	// A missing key traps the guest; the structured config error surfaces
	// instead of a bare trap wrapper.
	_, err = sess.Invoke(context.Background(), "cfg", "lookup", "missing")
	if errs.KindOf(err) != errs.KindConfig {
		t.Errorf("missing key = %v", err)
	}
}
