package sandbox

import (
	"context"
)

// Executor is the sandboxed execution boundary: one exported function of
// one bytecode module, invoked with a list of Values, producing exactly
// one terminal outcome per call.
//
// Implementations must not retain the module byte slice after Evaluate
// returns, and must be safe for concurrent use.
type Executor interface {
	Evaluate(ctx context.Context, module []byte, function string, args []Value) (Value, error)
	Close(ctx context.Context) error
}

// Unimplemented is the executor selected when no engine is configured.
// Every invocation fails with NotImplemented: no validation, no execution,
// no side effects. Calls are independent and idempotent, so it is safe
// for unbounded concurrency.
type Unimplemented struct{}

// NewUnimplemented creates the backing-less executor
func NewUnimplemented() *Unimplemented {
	return &Unimplemented{}
}

// Evaluate unconditionally reports the missing execution path
func (u *Unimplemented) Evaluate(_ context.Context, _ []byte, _ string, _ []Value) (Value, error) {
	return Value{}, Errorf(NotImplemented, "sandbox execution is not implemented")
}

// Close is a no-op; there are no resources to release
func (u *Unimplemented) Close(_ context.Context) error {
	return nil
}
