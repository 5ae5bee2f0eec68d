package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	host "github.com/wippyai/component-host"
	"github.com/wippyai/component-host/contract"
	"github.com/wippyai/component-host/engine"
	errs "github.com/wippyai/component-host/errors"
	"github.com/wippyai/component-host/registry"
)

func parse(t *testing.T, text string) *contract.Contract {
	t.Helper()
	c, err := contract.Parse(text)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// greeterBuiltin is the canonical fixture: one exported function, one
// optional config key.
func greeterBuiltin(t *testing.T) Builtin {
	return Builtin{
		Name: "greeter",
		Contract: parse(t, `
export demo:greeter@1.0.0 {
  greet: func(name: string) -> string
}
config greeting
`),
		Funcs: map[string]host.BuiltinFunc{
			"greet": func(_ context.Context, env host.BuiltinEnv, args []any) (any, error) {
				greeting, ok := env.Config("greeting")
				if !ok {
					greeting = "Hello"
				}
				return fmt.Sprintf("%s, %s!", greeting, args[0]), nil
			},
		},
	}
}

// appBuiltin imports the greeter and prefixes its answer.
func appBuiltin(t *testing.T) Builtin {
	return Builtin{
		Name: "app",
		Contract: parse(t, `
export demo:app@1.0.0 {
  run: func(name: string) -> string
}
import demo:greeter@1.0.0 {
  greet: func(name: string) -> string
}
`),
		Funcs: map[string]host.BuiltinFunc{
			"run": func(ctx context.Context, env host.BuiltinEnv, args []any) (any, error) {
				v, err := env.Call(ctx, "demo:greeter", "greet", args[0])
				if err != nil {
					return nil, err
				}
				return "app says: " + v.(string), nil
			},
		},
	}
}

func mustLoad(t *testing.T, specs []host.ComponentSpec, builtins ...Builtin) *Session {
	t.Helper()
	sess, err := Load(context.Background(), specs, Options{Builtins: builtins})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { _ = sess.Shutdown(context.Background()) })
	return sess
}

func TestInvokeWithConfig(t *testing.T) {
	sess := mustLoad(t, []host.ComponentSpec{
		{
			Name:    "greeter",
			URI:     "builtin:greeter",
			Exposed: true,
			Config:  []host.ConfigEntry{{Key: "greeting", Value: "Aloha"}},
		},
	}, greeterBuiltin(t))

	got, err := sess.Invoke(context.Background(), "greeter", "greet", "World")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "Aloha, World!" {
		t.Errorf("Invoke = %v", got)
	}
}

func TestInvokeConfigDefault(t *testing.T) {
	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "greeter", URI: "builtin:greeter", Exposed: true},
	}, greeterBuiltin(t))

	got, err := sess.Invoke(context.Background(), "greeter", "greet", "World")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello, World!" {
		t.Errorf("Invoke = %v", got)
	}
}

func TestCrossComponentCall(t *testing.T) {
	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "app", URI: "builtin:app", Exposed: true},
		{
			Name:   "greeter",
			URI:    "builtin:greeter",
			Config: []host.ConfigEntry{{Key: "greeting", Value: "Hey"}},
		},
	}, greeterBuiltin(t), appBuiltin(t))

	got, err := sess.Invoke(context.Background(), "app", "run", "World")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "app says: Hey, World!" {
		t.Errorf("Invoke = %v", got)
	}
}

func TestExposureGuard(t *testing.T) {
	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "app", URI: "builtin:app", Exposed: true},
		{Name: "greeter", URI: "builtin:greeter"},
	}, greeterBuiltin(t), appBuiltin(t))

	// Host cannot reach the non-exposed component at all.
	_, err := sess.Invoke(context.Background(), "greeter", "greet", "World")
	if !stderrors.Is(err, errs.Capability("")) {
		t.Errorf("Invoke on non-exposed = %v", err)
	}
	if _, err := sess.Component("greeter"); !stderrors.Is(err, errs.Capability("")) {
		t.Errorf("Component on non-exposed = %v", err)
	}

	// The peer still can.
	if _, err := sess.Invoke(context.Background(), "app", "run", "World"); err != nil {
		t.Errorf("peer call failed: %v", err)
	}

	// Listing shows only exposed components.
	comps := sess.Components()
	if len(comps) != 1 || comps[0].Name != "app" {
		t.Errorf("Components() = %+v", comps)
	}
}

func TestUnknownComponentAndFunction(t *testing.T) {
	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "greeter", URI: "builtin:greeter", Exposed: true},
	}, greeterBuiltin(t))

	_, err := sess.Invoke(context.Background(), "ghost", "greet")
	if errs.KindOf(err) != errs.KindInvocation || !strings.Contains(err.Error(), "unknown component") {
		t.Errorf("err = %v", err)
	}

	_, err = sess.Invoke(context.Background(), "greeter", "farewell")
	if errs.KindOf(err) != errs.KindInvocation {
		t.Errorf("err = %v", err)
	}
}

func TestBadArgumentsNeverEnterSandbox(t *testing.T) {
	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "greeter", URI: "builtin:greeter", Exposed: true},
	}, greeterBuiltin(t))
	ctx := context.Background()

	if _, err := sess.Invoke(ctx, "greeter", "greet"); err == nil {
		t.Error("arity violation accepted")
	}
	if _, err := sess.Invoke(ctx, "greeter", "greet", "a", "b"); err == nil {
		t.Error("arity violation accepted")
	}
	if _, err := sess.Invoke(ctx, "greeter", "greet", 42); err == nil {
		t.Error("type violation accepted")
	}

	info, err := sess.Component("greeter")
	if err != nil {
		t.Fatal(err)
	}
	if info.Calls != 0 {
		t.Errorf("rejected calls entered the sandbox %d times", info.Calls)
	}

	if _, err := sess.Invoke(ctx, "greeter", "greet", "World"); err != nil {
		t.Fatal(err)
	}
	if info, _ = sess.Component("greeter"); info.Calls != 1 {
		t.Errorf("Calls = %d after one good call", info.Calls)
	}
}

func TestRequiredConfigMissing(t *testing.T) {
	secure := Builtin{
		Name: "secure",
		Contract: parse(t, `
export demo:secure@1.0.0 {
  token: func() -> string
}
config api-key required
`),
		Funcs: map[string]host.BuiltinFunc{
			"token": func(_ context.Context, env host.BuiltinEnv, _ []any) (any, error) {
				v, _ := env.Config("api-key")
				return v, nil
			},
		},
	}

	_, err := Load(context.Background(), []host.ComponentSpec{
		{Name: "secure", URI: "builtin:secure", Exposed: true},
	}, Options{Builtins: []Builtin{secure}})
	if errs.KindOf(err) != errs.KindConfig {
		t.Fatalf("err = %v", err)
	}

	sess, err := Load(context.Background(), []host.ComponentSpec{
		{
			Name:    "secure",
			URI:     "builtin:secure",
			Exposed: true,
			Config:  []host.ConfigEntry{{Key: "api-key", Value: "s3cret"}},
		},
	}, Options{Builtins: []Builtin{secure}})
	if err != nil {
		t.Fatalf("Load with config: %v", err)
	}
	defer sess.Shutdown(context.Background())

	got, err := sess.Invoke(context.Background(), "secure", "token")
	if err != nil || got != "s3cret" {
		t.Errorf("token = %v, %v", got, err)
	}
}

func TestUnresolvedImportFailsLoad(t *testing.T) {
	_, err := Load(context.Background(), []host.ComponentSpec{
		{Name: "app", URI: "builtin:app", Exposed: true},
	}, Options{Builtins: []Builtin{appBuiltin(t)}})
	if !stderrors.Is(err, errs.UnresolvedImport("", "", "")) {
		t.Fatalf("err = %v", err)
	}
}

func TestAmbiguousImportFailsLoad(t *testing.T) {
	g1, g2 := greeterBuiltin(t), greeterBuiltin(t)
	g2.Name = "greeter2"

	_, err := Load(context.Background(), []host.ComponentSpec{
		{Name: "app", URI: "builtin:app", Exposed: true},
		{Name: "greeter", URI: "builtin:greeter"},
		{Name: "greeter2", URI: "builtin:greeter2"},
	}, Options{Builtins: []Builtin{appBuiltin(t), g1, g2}})
	if !stderrors.Is(err, errs.AmbiguousImport("", "", nil)) {
		t.Fatalf("err = %v", err)
	}
}

func TestExplicitBindingSelectsExporter(t *testing.T) {
	g1, g2 := greeterBuiltin(t), greeterBuiltin(t)
	g2.Name = "greeter2"

	sess := mustLoad(t, []host.ComponentSpec{
		{
			Name:     "app",
			URI:      "builtin:app",
			Exposed:  true,
			Bindings: map[string]string{"demo:greeter": "second"},
		},
		{Name: "first", URI: "builtin:greeter"},
		{
			Name:   "second",
			URI:    "builtin:greeter2",
			Config: []host.ConfigEntry{{Key: "greeting", Value: "Howdy"}},
		},
	}, appBuiltin(t), g1, g2)

	got, err := sess.Invoke(context.Background(), "app", "run", "World")
	if err != nil {
		t.Fatal(err)
	}
	if got != "app says: Howdy, World!" {
		t.Errorf("Invoke = %v", got)
	}
}

func TestCyclicCompositionFailsLoad(t *testing.T) {
	mk := func(name, exports, imports string) Builtin {
		return Builtin{
			Name: name,
			Contract: parse(t, fmt.Sprintf(
				"export x:%s {\n f: func()\n}\nimport x:%s {\n f: func()\n}", exports, imports)),
			Funcs: map[string]host.BuiltinFunc{
				"f": func(context.Context, host.BuiltinEnv, []any) (any, error) { return nil, nil },
			},
		}
	}

	_, err := Load(context.Background(), []host.ComponentSpec{
		{Name: "a", URI: "builtin:a"},
		{Name: "b", URI: "builtin:b"},
		{Name: "c", URI: "builtin:c"},
	}, Options{Builtins: []Builtin{mk("a", "a", "b"), mk("b", "b", "c"), mk("c", "c", "a")}})
	if !stderrors.Is(err, errs.CyclicDependency(nil)) {
		t.Fatalf("err = %v", err)
	}
	for _, member := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), member) {
			t.Errorf("cycle error %q missing member %q", err, member)
		}
	}
}

func TestShutdownClosesSession(t *testing.T) {
	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "greeter", URI: "builtin:greeter", Exposed: true},
	}, greeterBuiltin(t))

	if err := sess.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	_, err := sess.Invoke(context.Background(), "greeter", "greet", "World")
	if !errs.IsSessionClosed(err) {
		t.Errorf("Invoke after shutdown = %v", err)
	}

	// Shutdown twice is fine.
	if err := sess.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestCallsSerializePerInstance(t *testing.T) {
	var inside atomic.Int32
	racer := Builtin{
		Name: "racer",
		Contract: parse(t, "export demo:racer@1.0.0 {\n work: func() -> u32\n}"),
		Funcs: map[string]host.BuiltinFunc{
			"work": func(context.Context, host.BuiltinEnv, []any) (any, error) {
				if inside.Add(1) != 1 {
					return nil, fmt.Errorf("overlapping entry")
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return uint32(0), nil
			},
		},
	}

	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "racer", URI: "builtin:racer", Exposed: true},
	}, racer)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sess.Invoke(context.Background(), "racer", "work"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}

func TestTrapIsolated(t *testing.T) {
	bomb := Builtin{
		Name: "bomb",
		Contract: parse(t, "export demo:bomb@1.0.0 {\n fuse: func() -> u32\n}"),
		Funcs: map[string]host.BuiltinFunc{
			"fuse": func(context.Context, host.BuiltinEnv, []any) (any, error) {
				panic("kaboom")
			},
		},
	}

	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "bomb", URI: "builtin:bomb", Exposed: true},
		{Name: "greeter", URI: "builtin:greeter", Exposed: true},
	}, bomb, greeterBuiltin(t))
	ctx := context.Background()

	_, err := sess.Invoke(ctx, "bomb", "fuse")
	if errs.KindOf(err) != errs.KindInvocation {
		t.Fatalf("trap surfaced as %v", err)
	}

	// The rest of the session keeps working.
	if _, err := sess.Invoke(ctx, "greeter", "greet", "World"); err != nil {
		t.Errorf("session damaged by trap: %v", err)
	}
}

func TestGraphDOT(t *testing.T) {
	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "app", URI: "builtin:app", Exposed: true},
		{Name: "greeter", URI: "builtin:greeter"},
	}, greeterBuiltin(t), appBuiltin(t))

	dot := sess.Graph().DOT()
	if !strings.Contains(dot, `"app" -> "greeter"`) {
		t.Errorf("DOT missing binding edge:\n%s", dot)
	}
}

func TestComponentInfo(t *testing.T) {
	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "greeter", URI: "builtin:greeter", Exposed: true},
	}, greeterBuiltin(t))

	info, err := sess.Component("greeter")
	if err != nil {
		t.Fatal(err)
	}
	if info.State != StateRunning {
		t.Errorf("State = %v", info.State)
	}
	if info.Location != "builtin:greeter" {
		t.Errorf("Location = %q", info.Location)
	}
	if len(info.Exports) != 1 || info.Exports[0].Name != "demo:greeter" {
		t.Errorf("Exports = %+v", info.Exports)
	}

	if _, err := sess.Component("ghost"); err == nil {
		t.Error("unknown component reported info")
	}
}

func TestSharedArtifactSinglePointer(t *testing.T) {
	// Two components off the same location share one artifact.
	sess := mustLoad(t, []host.ComponentSpec{
		{Name: "g1", URI: "builtin:greeter", Exposed: true},
		{Name: "g2", URI: "builtin:greeter", Exposed: true},
	}, greeterBuiltin(t))

	a1 := sess.instances["g1"].artifact
	a2 := sess.instances["g2"].artifact
	if a1 != a2 {
		t.Error("same location produced distinct artifacts")
	}

	// Distinct instances keep distinct state.
	got1, err := sess.Invoke(context.Background(), "g1", "greet", "one")
	if err != nil {
		t.Fatal(err)
	}
	if got1 != "Hello, one!" {
		t.Errorf("g1 = %v", got1)
	}
	c1, _ := sess.Component("g1")
	c2, _ := sess.Component("g2")
	if c1.Calls != 1 || c2.Calls != 0 {
		t.Errorf("calls = %d, %d", c1.Calls, c2.Calls)
	}
}

func TestShutdownDuringInvokes(t *testing.T) {
	// Shutdown racing live invocations: every call either completes or
	// reports the session closed, and the host never panics.
	for round := 0; round < 25; round++ {
		sess := mustLoad(t, []host.ComponentSpec{
			{Name: "greeter", URI: "builtin:greeter", Exposed: true},
		}, greeterBuiltin(t))

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					got, err := sess.Invoke(context.Background(), "greeter", "greet", "World")
					if err != nil {
						if !errs.IsSessionClosed(err) {
							t.Errorf("Invoke: %v", err)
						}
						return
					}
					if got != "Hello, World!" {
						t.Errorf("Invoke = %v", got)
						return
					}
				}
			}()
		}

		if err := sess.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
		wg.Wait()

		if _, err := sess.Invoke(context.Background(), "greeter", "greet", "World"); !errs.IsSessionClosed(err) {
			t.Fatalf("Invoke after Shutdown = %v", err)
		}
	}
}

func TestSharedRegistryBuiltinsAcrossSessions(t *testing.T) {
	eng := engine.New(context.Background(), nil)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	reg := registry.New(eng, registry.FileFetcher{})

	specs := []host.ComponentSpec{
		{Name: "greeter", URI: "builtin:greeter", Exposed: true},
	}
	opts := Options{Engine: eng, Registry: reg, Builtins: []Builtin{greeterBuiltin(t)}}

	first, err := Load(context.Background(), specs, opts)
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if err := first.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}

	// The builtin artifact outlives the first session; a second session
	// bringing the same builtin set must still load.
	second, err := Load(context.Background(), specs, opts)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	defer second.Shutdown(context.Background())

	got, err := second.Invoke(context.Background(), "greeter", "greet", "World")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello, World!" {
		t.Errorf("Invoke = %v", got)
	}
}
