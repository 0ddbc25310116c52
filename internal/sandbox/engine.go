package sandbox

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// Config defines engine resource limits and defaults
type Config struct {
	// Timeout is the per-invocation wall-clock limit
	Timeout time.Duration
	// MaxMemoryPages caps guest linear memory (64KiB pages)
	MaxMemoryPages uint32
	// MaxConcurrent bounds simultaneous invocations
	MaxConcurrent int
	// MaxModuleBytes rejects oversized modules before compilation
	MaxModuleBytes int
	// CacheEnabled keeps compiled modules for reuse across invocations
	CacheEnabled bool
	// CacheEntries caps the compiled-module cache
	CacheEntries int
	// Defaults is the capability set applied when an invocation names none
	Defaults Capabilities
}

// DefaultConfig returns production-ready engine configuration
func DefaultConfig() Config {
	return Config{
		Timeout:        5 * time.Second,
		MaxMemoryPages: 1024, // 64 MiB
		MaxConcurrent:  32,
		MaxModuleBytes: 16 << 20,
		CacheEnabled:   true,
		CacheEntries:   64,
	}
}

// Invocation is one request to execute an exported function
type Invocation struct {
	Module   []byte
	Function string
	Args     []Value

	// Caps overrides the engine's default capability set when non-nil
	Caps *Capabilities
	// Stdout and Stderr receive guest output when the Stdio capability
	// is granted; nil writers discard
	Stdout io.Writer
	Stderr io.Writer
	// Timeout overrides the engine default when positive
	Timeout time.Duration
}

// Engine executes WebAssembly modules inside wazero's in-process VM.
// The runtime and compiled modules are shared across invocations; each
// call gets a fresh, anonymous module instance so concurrent invocations
// never observe one another.
type Engine struct {
	runtime wazero.Runtime
	cache   *compileCache
	cfg     Config
	sem     chan struct{}
}

// interface check
var _ Executor = (*Engine)(nil)

// NewEngine creates a WASM engine with WASI preview1 host support
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MaxMemoryPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MaxMemoryPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rc)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}

	e := &Engine{
		runtime: rt,
		cfg:     cfg,
		sem:     make(chan struct{}, maxConcurrent),
	}
	if cfg.CacheEnabled {
		e.cache = newCompileCache(cfg.CacheEntries)
	}
	return e, nil
}

// Evaluate implements Executor with the engine's default limits
func (e *Engine) Evaluate(ctx context.Context, module []byte, function string, args []Value) (Value, error) {
	return e.Run(ctx, Invocation{Module: module, Function: function, Args: args})
}

// Run executes one invocation with per-call overrides
func (e *Engine) Run(ctx context.Context, inv Invocation) (result Value, err error) {
	// The boundary contract: a classified error, never a panic
	defer func() {
		if r := recover(); r != nil {
			result = Value{}
			err = Errorf(ExecutionTrap, "engine fault: %v", r)
		}
	}()

	if len(inv.Module) == 0 {
		return Value{}, Errorf(InvalidModule, "module is empty")
	}
	if e.cfg.MaxModuleBytes > 0 && len(inv.Module) > e.cfg.MaxModuleBytes {
		return Value{}, Errorf(ResourceExceeded, "module is %d bytes, limit is %d", len(inv.Module), e.cfg.MaxModuleBytes)
	}
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return Value{}, WrapError(ResourceExceeded, ctx.Err(), "waiting for an execution slot")
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	compiled, release, err := e.compile(ctx, inv.Module)
	if err != nil {
		return Value{}, err
	}
	defer release()

	caps := e.cfg.Defaults
	if inv.Caps != nil {
		caps = *inv.Caps
	}

	mod, err := e.runtime.InstantiateModule(ctx, compiled, moduleConfig(caps, inv.Stdout, inv.Stderr))
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			return Value{}, classifyRunError(err, "instantiation")
		}
		// Unresolved imports, incompatible memory minimums, rejected
		// start functions: the module cannot run in this sandbox
		return Value{}, WrapError(InvalidModule, err, "instantiation failed")
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(inv.Function)
	if fn == nil {
		return Value{}, Errorf(FunctionNotFound, "module exports no function %q", inv.Function)
	}

	lowered, err := lowerArgs(ctx, mod, inv.Args)
	if err != nil {
		return Value{}, err
	}
	if err := lowered.checkSignature(inv.Function, fn.Definition()); err != nil {
		return Value{}, err
	}

	results, err := fn.Call(ctx, lowered.slots...)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			// Clean proc_exit: the guest chose to produce no value
			return List(), nil
		}
		return Value{}, classifyRunError(err, inv.Function)
	}

	return raiseResults(fn.Definition(), results)
}

// Validate compiles module bytes without executing anything
func (e *Engine) Validate(ctx context.Context, module []byte) error {
	if len(module) == 0 {
		return Errorf(InvalidModule, "module is empty")
	}
	if e.cfg.MaxModuleBytes > 0 && len(module) > e.cfg.MaxModuleBytes {
		return Errorf(ResourceExceeded, "module is %d bytes, limit is %d", len(module), e.cfg.MaxModuleBytes)
	}

	_, release, err := e.compile(ctx, module)
	if err != nil {
		return err
	}
	release()
	return nil
}

// CacheStats reports compiled-module cache counters
func (e *Engine) CacheStats() (hits, misses uint64, size int) {
	if e.cache == nil {
		return 0, 0, 0
	}
	return e.cache.stats()
}

// Close releases the cache and the underlying runtime
func (e *Engine) Close(ctx context.Context) error {
	if e.cache != nil {
		e.cache.close(ctx)
	}
	return e.runtime.Close(ctx)
}

// compile returns a ready compiled module plus its release func,
// consulting the content-addressed cache when enabled
func (e *Engine) compile(ctx context.Context, module []byte) (wazero.CompiledModule, func(), error) {
	if e.cache == nil {
		compiled, err := e.runtime.CompileModule(ctx, module)
		if err != nil {
			return nil, nil, WrapError(InvalidModule, err, "compile failed")
		}
		return compiled, func() { _ = compiled.Close(ctx) }, nil
	}

	key := moduleKey(sha256.Sum256(module))
	if entry := e.cache.get(key); entry != nil {
		return entry.compiled, func() { e.cache.release(ctx, entry) }, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, module)
	if err != nil {
		return nil, nil, WrapError(InvalidModule, err, "compile failed")
	}
	entry := e.cache.put(ctx, key, compiled)
	return entry.compiled, func() { e.cache.release(ctx, entry) }, nil
}

// moduleConfig translates capability grants into wazero module settings.
// The instance is anonymous so identical modules can run concurrently,
// and start functions are limited to the WASI reactor initializer.
func moduleConfig(caps Capabilities, stdout, stderr io.Writer) wazero.ModuleConfig {
	mc := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")

	if caps.Stdio {
		if stdout != nil {
			mc = mc.WithStdout(stdout)
		}
		if stderr != nil {
			mc = mc.WithStderr(stderr)
		}
	}
	if caps.Clock {
		mc = mc.WithSysWalltime().WithSysNanotime()
	}
	if caps.Random {
		mc = mc.WithRandSource(rand.Reader)
	}
	for k, v := range caps.Env {
		mc = mc.WithEnv(k, v)
	}
	if len(caps.Args) > 0 {
		mc = mc.WithArgs(caps.Args...)
	}
	if len(caps.Mounts) > 0 {
		fsCfg := wazero.NewFSConfig()
		for guest, host := range caps.Mounts {
			fsCfg = fsCfg.WithReadOnlyDirMount(host, guest)
		}
		mc = mc.WithFSConfig(fsCfg)
	}
	return mc
}

// classifyRunError maps wazero failures onto the error taxonomy
func classifyRunError(err error, what string) *Error {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeDeadlineExceeded:
			return WrapError(ResourceExceeded, err, what+" exceeded the execution deadline")
		case sys.ExitCodeContextCanceled:
			return WrapError(ResourceExceeded, err, what+" was canceled")
		default:
			return WrapError(ExecutionTrap, err, what+" exited abnormally")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(ResourceExceeded, err, what+" exceeded the execution deadline")
	}
	if errors.Is(err, context.Canceled) {
		return WrapError(ResourceExceeded, err, what+" was canceled")
	}
	return WrapError(ExecutionTrap, err, what+" trapped")
}
