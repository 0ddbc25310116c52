// Command wardenrun executes one exported function of a WebAssembly module
// and prints the result, using the same sandbox engine as the daemon.
//
// Usage:
//
//	wardenrun [flags] module.wasm function [arg...]
//
// Arguments are typed with a kind prefix: i32:5, i64:-9, f32:1.5,
// f64:2.25, str:hello, hex:deadbeef.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/viable-systems/warden/internal/sandbox"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "Execution deadline")
	memPages := flag.Uint("max-memory-pages", 1024, "Guest memory cap in 64KiB pages")
	profile := flag.String("profile", "pure", "Capability profile")
	profilesPath := flag.String("profiles", "", "Capability profiles YAML file")
	flag.Parse()

	if flag.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: wardenrun [flags] module.wasm function [arg...]")
		os.Exit(2)
	}

	module, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fatal("read module: %v", err)
	}

	args, err := parseArgs(flag.Args()[2:])
	if err != nil {
		fatal("%v", err)
	}

	profiles := sandbox.BuiltinProfiles()
	if *profilesPath != "" {
		if profiles, err = sandbox.LoadProfiles(*profilesPath); err != nil {
			fatal("%v", err)
		}
	}
	caps, ok := profiles.Get(*profile)
	if !ok {
		fatal("unknown profile %q (have: %s)", *profile, strings.Join(profiles.Names(), ", "))
	}

	ctx := context.Background()
	engine, err := sandbox.NewEngine(ctx, sandbox.Config{
		Timeout:        *timeout,
		MaxMemoryPages: uint32(*memPages),
		MaxConcurrent:  1,
		CacheEnabled:   false,
	})
	if err != nil {
		fatal("engine: %v", err)
	}
	defer engine.Close(ctx)

	result, err := engine.Run(ctx, sandbox.Invocation{
		Module:   module,
		Function: flag.Arg(1),
		Args:     args,
		Caps:     &caps,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error (%s): %v\n", sandbox.KindOf(err), err)
		os.Exit(1)
	}

	fmt.Println(result.String())
}

// parseArgs converts kind-prefixed strings to sandbox values
func parseArgs(raw []string) ([]sandbox.Value, error) {
	args := make([]sandbox.Value, 0, len(raw))
	for i, s := range raw {
		kind, payload, found := strings.Cut(s, ":")
		if !found {
			return nil, fmt.Errorf("argument %d: %q has no kind prefix (want i32:, i64:, f32:, f64:, str:, hex:)", i, s)
		}

		switch kind {
		case "i32":
			n, err := strconv.ParseInt(payload, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %v", i, err)
			}
			args = append(args, sandbox.I32(int32(n)))
		case "i64":
			n, err := strconv.ParseInt(payload, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %v", i, err)
			}
			args = append(args, sandbox.I64(n))
		case "f32":
			n, err := strconv.ParseFloat(payload, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %v", i, err)
			}
			args = append(args, sandbox.F32(float32(n)))
		case "f64":
			n, err := strconv.ParseFloat(payload, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %v", i, err)
			}
			args = append(args, sandbox.F64(n))
		case "str":
			args = append(args, sandbox.Str(payload))
		case "hex":
			b, err := hex.DecodeString(payload)
			if err != nil {
				return nil, fmt.Errorf("argument %d: invalid hex: %v", i, err)
			}
			args = append(args, sandbox.Bytes(b))
		default:
			return nil, fmt.Errorf("argument %d: unknown kind %q", i, kind)
		}
	}
	return args, nil
}

func fatal(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
