package sandbox_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viable-systems/warden/internal/sandbox"
	"github.com/viable-systems/warden/tests/helpers/testutil"
)

func newTestEngine(t *testing.T, mutate func(*sandbox.Config)) *sandbox.Engine {
	t.Helper()
	cfg := sandbox.DefaultConfig()
	cfg.MaxConcurrent = 4
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := sandbox.NewEngine(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

func TestEngineEvaluate(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	t.Run("Add", func(t *testing.T) {
		result, err := eng.Evaluate(ctx, testutil.AddModule(), "add", []sandbox.Value{
			sandbox.I32(2), sandbox.I32(40),
		})
		require.NoError(t, err)
		got, ok := result.AsI32()
		require.True(t, ok)
		assert.Equal(t, int32(42), got)
	})

	t.Run("Halve", func(t *testing.T) {
		result, err := eng.Evaluate(ctx, testutil.HalveModule(), "halve", []sandbox.Value{
			sandbox.F64(9.0),
		})
		require.NoError(t, err)
		got, ok := result.AsF64()
		require.True(t, ok)
		assert.InDelta(t, 4.5, got, 1e-12)
	})

	t.Run("No Results", func(t *testing.T) {
		result, err := eng.Evaluate(ctx, testutil.NopModule(), "nop", nil)
		require.NoError(t, err)
		list, ok := result.AsList()
		require.True(t, ok)
		assert.Empty(t, list)
	})

	t.Run("String Argument", func(t *testing.T) {
		result, err := eng.Evaluate(ctx, testutil.MemModule(), "bytelen", []sandbox.Value{
			sandbox.Str("hello"),
		})
		require.NoError(t, err)
		got, ok := result.AsI32()
		require.True(t, ok)
		assert.Equal(t, int32(5), got)
	})

	t.Run("Bytes Argument", func(t *testing.T) {
		result, err := eng.Evaluate(ctx, testutil.MemModule(), "bytelen", []sandbox.Value{
			sandbox.Bytes([]byte{0xde, 0xad, 0xbe, 0xef}),
		})
		require.NoError(t, err)
		got, ok := result.AsI32()
		require.True(t, ok)
		assert.Equal(t, int32(4), got)
	})
}

func TestEngineEvaluateErrors(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	t.Run("Empty Module", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, nil, "main", nil)
		testutil.RequireKind(t, err, sandbox.InvalidModule)
	})

	t.Run("Malformed Module", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, []byte{0x00, 0x61, 0x73, 0x6d}, "main", nil)
		testutil.RequireKind(t, err, sandbox.InvalidModule)
	})

	t.Run("Garbage Bytes", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, []byte("definitely not wasm"), "main", nil)
		testutil.RequireKind(t, err, sandbox.InvalidModule)
	})

	t.Run("Oversized Module", func(t *testing.T) {
		small := newTestEngine(t, func(cfg *sandbox.Config) { cfg.MaxModuleBytes = 8 })
		_, err := small.Evaluate(ctx, testutil.AddModule(), "add", nil)
		testutil.RequireKind(t, err, sandbox.ResourceExceeded)
	})

	t.Run("Function Not Found", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, testutil.AddModule(), "subtract", nil)
		testutil.RequireKind(t, err, sandbox.FunctionNotFound)
	})

	t.Run("Empty Function Name", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, testutil.AddModule(), "", nil)
		testutil.RequireKind(t, err, sandbox.FunctionNotFound)
	})

	t.Run("Empty Function Name On Malformed Module", func(t *testing.T) {
		// The module is classified before the export lookup runs
		_, err := eng.Evaluate(ctx, []byte{0x00, 0x61, 0x73, 0x6d}, "", nil)
		testutil.RequireKind(t, err, sandbox.InvalidModule)
	})

	t.Run("Arity Mismatch Too Few", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, testutil.AddModule(), "add", []sandbox.Value{sandbox.I32(1)})
		testutil.RequireKind(t, err, sandbox.ArityMismatch)
	})

	t.Run("Arity Mismatch Too Many", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, testutil.AddModule(), "add", []sandbox.Value{
			sandbox.I32(1), sandbox.I32(2), sandbox.I32(3),
		})
		testutil.RequireKind(t, err, sandbox.ArityMismatch)
	})

	t.Run("Type Mismatch", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, testutil.AddModule(), "add", []sandbox.Value{
			sandbox.I32(1), sandbox.F64(2.0),
		})
		testutil.RequireKind(t, err, sandbox.TypeMismatch)
	})

	t.Run("String Without Allocator", func(t *testing.T) {
		// HalveModule exports no memory or allocator, so byte-like
		// arguments cannot be lowered into it.
		_, err := eng.Evaluate(ctx, testutil.HalveModule(), "halve", []sandbox.Value{
			sandbox.Str("hello"),
		})
		testutil.RequireKind(t, err, sandbox.TypeMismatch)
	})

	t.Run("List Argument Rejected", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, testutil.AddModule(), "add", []sandbox.Value{
			sandbox.List(sandbox.I32(1)), sandbox.I32(2),
		})
		testutil.RequireKind(t, err, sandbox.TypeMismatch)
	})

	t.Run("Trap", func(t *testing.T) {
		_, err := eng.Evaluate(ctx, testutil.TrapModule(), "boom", nil)
		testutil.RequireKind(t, err, sandbox.ExecutionTrap)
	})
}

func TestEngineTimeout(t *testing.T) {
	eng := newTestEngine(t, func(cfg *sandbox.Config) { cfg.Timeout = 100 * time.Millisecond })

	start := time.Now()
	_, err := eng.Evaluate(context.Background(), testutil.SpinModule(), "spin", nil)
	elapsed := time.Since(start)

	testutil.RequireKind(t, err, sandbox.ResourceExceeded)
	assert.Less(t, elapsed, 5*time.Second, "infinite loop should be interrupted promptly")
}

func TestEngineCancellation(t *testing.T) {
	eng := newTestEngine(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := eng.Evaluate(ctx, testutil.SpinModule(), "spin", nil)
	testutil.RequireKind(t, err, sandbox.ResourceExceeded)
}

func TestEnginePerInvocationTimeout(t *testing.T) {
	eng := newTestEngine(t, nil)

	_, err := eng.Run(context.Background(), sandbox.Invocation{
		Module:   testutil.SpinModule(),
		Function: "spin",
		Timeout:  100 * time.Millisecond,
	})
	testutil.RequireKind(t, err, sandbox.ResourceExceeded)
}

func TestEngineCache(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()
	module := testutil.AddModule()
	args := []sandbox.Value{sandbox.I32(1), sandbox.I32(2)}

	_, err := eng.Evaluate(ctx, module, "add", args)
	require.NoError(t, err)
	_, err = eng.Evaluate(ctx, module, "add", args)
	require.NoError(t, err)

	hits, misses, size := eng.CacheStats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
	assert.Equal(t, 1, size)
}

func TestEngineCacheDisabled(t *testing.T) {
	eng := newTestEngine(t, func(cfg *sandbox.Config) { cfg.CacheEnabled = false })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := eng.Evaluate(ctx, testutil.AddModule(), "add", []sandbox.Value{
			sandbox.I32(int32(i)), sandbox.I32(1),
		})
		require.NoError(t, err)
	}

	hits, misses, size := eng.CacheStats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
	assert.Zero(t, size)
}

func TestEngineBorrowsModuleBytes(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	module := testutil.AddModule()
	_, err := eng.Evaluate(ctx, module, "add", []sandbox.Value{sandbox.I32(1), sandbox.I32(2)})
	require.NoError(t, err)

	// Clobbering the caller's slice after evaluate must not break later
	// invocations of the same content.
	for i := range module {
		module[i] = 0xff
	}

	result, err := eng.Evaluate(ctx, testutil.AddModule(), "add", []sandbox.Value{
		sandbox.I32(3), sandbox.I32(4),
	})
	require.NoError(t, err)
	got, ok := result.AsI32()
	require.True(t, ok)
	assert.Equal(t, int32(7), got)
}

func TestEngineConcurrent(t *testing.T) {
	eng := newTestEngine(t, func(cfg *sandbox.Config) { cfg.MaxConcurrent = 8 })
	ctx := context.Background()
	module := testutil.AddModule()

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int32) {
			defer wg.Done()
			result, err := eng.Evaluate(ctx, module, "add", []sandbox.Value{
				sandbox.I32(n), sandbox.I32(n),
			})
			if err != nil {
				errs <- err
				return
			}
			if got, _ := result.AsI32(); got != 2*n {
				errs <- sandbox.Errorf(sandbox.Internal, "want %d, got %d", 2*n, got)
			}
		}(int32(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent evaluate: %v", err)
	}
}

func TestEngineStdout(t *testing.T) {
	// The fixtures never write to stdout, but a granted Stdio capability
	// must at least wire the writers without disturbing execution.
	eng := newTestEngine(t, nil)

	var stdout, stderr bytes.Buffer
	caps := sandbox.Capabilities{Stdio: true}
	result, err := eng.Run(context.Background(), sandbox.Invocation{
		Module:   testutil.AddModule(),
		Function: "add",
		Args:     []sandbox.Value{sandbox.I32(5), sandbox.I32(6)},
		Caps:     &caps,
		Stdout:   &stdout,
		Stderr:   &stderr,
	})
	require.NoError(t, err)
	got, ok := result.AsI32()
	require.True(t, ok)
	assert.Equal(t, int32(11), got)
	assert.Empty(t, stdout.String())
}

func TestEngineValidate(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, eng.Validate(ctx, testutil.AddModule()))
	})

	t.Run("Invalid", func(t *testing.T) {
		err := eng.Validate(ctx, []byte{0x00, 0x61, 0x73, 0x6d})
		testutil.RequireKind(t, err, sandbox.InvalidModule)
	})

	t.Run("Empty", func(t *testing.T) {
		err := eng.Validate(ctx, nil)
		testutil.RequireKind(t, err, sandbox.InvalidModule)
	})
}

func TestEngineClosedRejects(t *testing.T) {
	cfg := sandbox.DefaultConfig()
	eng, err := sandbox.NewEngine(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, eng.Close(context.Background()))

	_, err = eng.Evaluate(context.Background(), testutil.AddModule(), "add", []sandbox.Value{
		sandbox.I32(1), sandbox.I32(2),
	})
	assert.Error(t, err)
}
