package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"
	"go.uber.org/zap"
	"golang.org/x/term"

	host "github.com/wippyai/component-host"
	"github.com/wippyai/component-host/conf"
	"github.com/wippyai/component-host/contract"
	"github.com/wippyai/component-host/session"
)

func main() {
	var (
		component   = flag.String("component", "", "Component to invoke")
		funcName    = flag.String("func", "", "Function to invoke")
		argsStr     = flag.String("args", "", "Arguments, comma-separated")
		list        = flag.Bool("list", false, "List exposed components and exit")
		dot         = flag.Bool("dot", false, "Print the composition graph in DOT format and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: run [flags] <definition.toml | component.wasm> ...")
		fmt.Fprintln(os.Stderr, "       run <files> -component name -func name [-args a,b,c]")
		fmt.Fprintln(os.Stderr, "       run <files> -list")
		fmt.Fprintln(os.Stderr, "       run <files> -dot")
		fmt.Fprintln(os.Stderr, "       run <files> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		host.SetLogger(logger)
		defer logger.Sync()
	}

	if err := run(flag.Args(), *component, *funcName, *argsStr, *list, *dot, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(files []string, component, funcName, argsStr string, list, dot, interactive bool) error {
	ctx := context.Background()

	specs, err := conf.LoadFiles(files...)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("no components defined in %s", strings.Join(files, ", "))
	}

	sess, err := session.Load(ctx, specs, session.Options{})
	if err != nil {
		return err
	}
	defer sess.Shutdown(ctx)

	if dot {
		fmt.Println(sess.Graph().DOT())
		return nil
	}

	if interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("interactive mode requires a terminal")
		}
		return runInteractive(sess)
	}

	if list || funcName == "" {
		printComponents(sess)
		return nil
	}

	if component == "" {
		comps := sess.Components()
		if len(comps) != 1 {
			return fmt.Errorf("-component is required when more than one component is exposed")
		}
		component = comps[0].Name
	}

	info, err := sess.Component(component)
	if err != nil {
		return err
	}
	decl := findFunc(info, funcName)
	if decl == nil {
		return fmt.Errorf("component %q does not export function %q", component, funcName)
	}

	args, err := parseArgs(argsStr, decl)
	if err != nil {
		return err
	}

	result, err := sess.Invoke(ctx, component, funcName, args...)
	if err != nil {
		return err
	}
	if len(decl.Results) > 0 {
		fmt.Printf("%v\n", result)
	}
	return nil
}

func printComponents(sess *session.Session) {
	for _, info := range sess.Components() {
		fmt.Printf("%s (%s)\n", info.Name, info.Location)
		for _, iface := range info.Exports {
			fmt.Printf("  %s\n", iface.String())
			for _, fn := range iface.Funcs {
				fmt.Printf("    %s\n", fn.Signature())
			}
		}
	}
}

func findFunc(info session.ComponentInfo, name string) *contract.Function {
	for i := range info.Exports {
		if fn := info.Exports[i].Func(name); fn != nil {
			return fn
		}
	}
	return nil
}

func parseArgs(argsStr string, decl *contract.Function) ([]any, error) {
	var raw []string
	if argsStr != "" {
		raw = strings.Split(argsStr, ",")
	}
	if len(raw) != len(decl.Params) {
		return nil, fmt.Errorf("%s takes %d argument(s), got %d", decl.Name, len(decl.Params), len(raw))
	}
	args := make([]any, len(raw))
	for i, s := range raw {
		v, err := convertArg(s, decl.Params[i].Type)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", decl.Params[i].Name, err)
		}
		args[i] = v
	}
	return args, nil
}

func convertArg(value string, t wit.Type) (any, error) {
	switch t.(type) {
	case wit.String:
		return value, nil
	case wit.U8, wit.U16, wit.U32:
		v, err := strconv.ParseUint(value, 10, 32)
		return uint32(v), err
	case wit.S8, wit.S16, wit.S32:
		v, err := strconv.ParseInt(value, 10, 32)
		return int32(v), err
	case wit.U64:
		return strconv.ParseUint(value, 10, 64)
	case wit.S64:
		return strconv.ParseInt(value, 10, 64)
	case wit.F32:
		v, err := strconv.ParseFloat(value, 32)
		return float32(v), err
	case wit.F64:
		return strconv.ParseFloat(value, 64)
	case wit.Bool:
		return value == "true" || value == "1", nil
	case wit.Char:
		r := []rune(value)
		if len(r) != 1 {
			return nil, fmt.Errorf("%q is not a single character", value)
		}
		return r[0], nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %s", contract.TypeName(t))
	}
}
