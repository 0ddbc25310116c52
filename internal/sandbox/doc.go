/*
Package sandbox provides the bytecode-module execution boundary.

# Overview

The sandbox accepts a compiled WebAssembly module, a function name from its
export table, and an ordered argument list; it executes the function inside
an isolated wazero VM and returns exactly one outcome: a Value or a
kind-classified error. Each invocation has:

  - Memory limits (hard linear-memory page cap)
  - CPU limits (wall-clock deadline with forced VM termination)
  - Capability gating (no clock, randomness, environment, or filesystem
    unless a profile grants it)
  - Per-call isolation (a fresh anonymous instance per invocation)

# Executors

Two executors implement the same boundary:

 1. Engine: the real wazero-backed implementation
 2. Unimplemented: the backing-less executor that fails every call with
    NotImplemented, used when no engine is configured

# Error Taxonomy

Failures are classified, never thrown: InvalidModule, FunctionNotFound,
ArityMismatch, TypeMismatch, ExecutionTrap, ResourceExceeded,
NotImplemented, Internal. Panics inside the engine are recovered and
surfaced as ExecutionTrap, so callers always receive a tagged result.

# Value Model

Arguments and results use the closed Value variant (i32, i64, f32, f64,
bytes, string, list). Numeric kinds map directly to WASM stack slots;
bytes and strings are copied into guest memory through the module's
exported allocator and passed as (ptr, len) pairs.

# Usage Example

	engine, err := sandbox.NewEngine(ctx, sandbox.DefaultConfig())
	if err != nil {
		return err
	}
	defer engine.Close(ctx)

	result, err := engine.Evaluate(ctx, moduleBytes, "add", []sandbox.Value{
		sandbox.I32(1), sandbox.I32(2),
	})

# Concurrency

The Engine is safe for concurrent use. Compiled modules are shared through
a content-addressed cache; instances never are. A runaway invocation is
killed by its own deadline without disturbing concurrent invocations.
*/
package sandbox
