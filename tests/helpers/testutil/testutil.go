// Package testutil provides testing utilities and helpers for warden tests.
//
// It includes a minimal WebAssembly module assembler producing the tiny
// fixtures the sandbox tests execute, plus a mock executor for API tests.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/viable-systems/warden/internal/sandbox"
)

// MockExecutor is a mock implementation of sandbox.Executor for testing.
type MockExecutor struct {
	mock.Mock
}

// Evaluate mocks the Evaluate method.
func (m *MockExecutor) Evaluate(ctx context.Context, module []byte, function string, args []sandbox.Value) (sandbox.Value, error) {
	callArgs := m.Called(ctx, module, function, args)
	return callArgs.Get(0).(sandbox.Value), callArgs.Error(1)
}

// Close mocks the Close method.
func (m *MockExecutor) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// RequireKind asserts that err carries the given sandbox error kind.
func RequireKind(t *testing.T, err error, kind sandbox.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, sandbox.KindOf(err), "error: %v", err)
}

// ----------------------------------------------------------------------------
// WASM fixture assembler
// ----------------------------------------------------------------------------

// WASM value type bytes
const (
	typeI32 = 0x7f
	typeI64 = 0x7e
	typeF32 = 0x7d
	typeF64 = 0x7c
)

// module assembles a core WebAssembly binary from raw section entries.
// Only the sections the fixtures need are supported.
type module struct {
	types   [][]byte
	funcs   []int // type index per function
	mems    [][]byte
	globals [][]byte
	exports [][]byte
	codes   [][]byte
}

func uleb(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			return out
		}
	}
}

func vec(entries [][]byte) []byte {
	out := uleb(len(entries))
	for _, e := range entries {
		out = append(out, e...)
	}
	return out
}

func section(id byte, contents []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(len(contents))...)
	return append(out, contents...)
}

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(len(params))...)
	out = append(out, params...)
	out = append(out, uleb(len(results))...)
	return append(out, results...)
}

func exportEntry(name string, kind byte, index int) []byte {
	out := uleb(len(name))
	out = append(out, name...)
	out = append(out, kind)
	return append(out, uleb(index)...)
}

func exportFunc(name string, index int) []byte { return exportEntry(name, 0x00, index) }
func exportMem(name string, index int) []byte  { return exportEntry(name, 0x02, index) }

// body wraps an expression (without locals) into a code entry
func body(expr ...byte) []byte {
	contents := append([]byte{0x00}, expr...) // no local declarations
	out := uleb(len(contents))
	return append(out, contents...)
}

func (m *module) bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		out = append(out, section(1, vec(m.types))...)
	}
	if len(m.funcs) > 0 {
		entries := make([][]byte, len(m.funcs))
		for i, ti := range m.funcs {
			entries[i] = uleb(ti)
		}
		out = append(out, section(3, vec(entries))...)
	}
	if len(m.mems) > 0 {
		out = append(out, section(5, vec(m.mems))...)
	}
	if len(m.globals) > 0 {
		out = append(out, section(6, vec(m.globals))...)
	}
	if len(m.exports) > 0 {
		out = append(out, section(7, vec(m.exports))...)
	}
	if len(m.codes) > 0 {
		out = append(out, section(10, vec(m.codes))...)
	}
	return out
}

// AddModule exports add(i32, i32) -> i32.
func AddModule() []byte {
	m := module{
		types:   [][]byte{funcType([]byte{typeI32, typeI32}, []byte{typeI32})},
		funcs:   []int{0},
		exports: [][]byte{exportFunc("add", 0)},
		codes: [][]byte{body(
			0x20, 0x00, // local.get 0
			0x20, 0x01, // local.get 1
			0x6a, // i32.add
			0x0b, // end
		)},
	}
	return m.bytes()
}

// HalveModule exports halve(f64) -> f64.
func HalveModule() []byte {
	m := module{
		types:   [][]byte{funcType([]byte{typeF64}, []byte{typeF64})},
		funcs:   []int{0},
		exports: [][]byte{exportFunc("halve", 0)},
		codes: [][]byte{body(
			0x20, 0x00, // local.get 0
			0x44, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xe0, 0x3f, // f64.const 0.5
			0xa2, // f64.mul
			0x0b, // end
		)},
	}
	return m.bytes()
}

// NopModule exports nop() which returns immediately with no result.
func NopModule() []byte {
	m := module{
		types:   [][]byte{funcType(nil, nil)},
		funcs:   []int{0},
		exports: [][]byte{exportFunc("nop", 0)},
		codes:   [][]byte{body(0x0b)},
	}
	return m.bytes()
}

// TrapModule exports boom() which hits unreachable immediately.
func TrapModule() []byte {
	m := module{
		types:   [][]byte{funcType(nil, nil)},
		funcs:   []int{0},
		exports: [][]byte{exportFunc("boom", 0)},
		codes: [][]byte{body(
			0x00, // unreachable
			0x0b, // end
		)},
	}
	return m.bytes()
}

// SpinModule exports spin() which loops forever.
func SpinModule() []byte {
	m := module{
		types:   [][]byte{funcType(nil, nil)},
		funcs:   []int{0},
		exports: [][]byte{exportFunc("spin", 0)},
		codes: [][]byte{body(
			0x03, 0x40, // loop (void)
			0x0c, 0x00, // br 0
			0x0b, // end loop
			0x0b, // end
		)},
	}
	return m.bytes()
}

// MemModule exports a linear memory, a bump allocator malloc(i32) -> i32,
// and bytelen(ptr i32, len i32) -> i32 returning the length argument.
func MemModule() []byte {
	m := module{
		types: [][]byte{
			funcType([]byte{typeI32}, []byte{typeI32}),          // malloc
			funcType([]byte{typeI32, typeI32}, []byte{typeI32}), // bytelen
		},
		funcs: []int{0, 1},
		mems:  [][]byte{{0x00, 0x01}}, // min 1 page, no max
		globals: [][]byte{{
			typeI32, 0x01, // mut i32
			0x41, 0x80, 0x08, // i32.const 1024
			0x0b,
		}},
		exports: [][]byte{
			exportFunc("malloc", 0),
			exportFunc("bytelen", 1),
			exportMem("memory", 0),
		},
		codes: [][]byte{
			body(
				0x23, 0x00, // global.get 0   (result: old heap top)
				0x23, 0x00, // global.get 0
				0x20, 0x00, // local.get 0
				0x6a,       // i32.add
				0x24, 0x00, // global.set 0   (bump)
				0x0b,
			),
			body(
				0x20, 0x01, // local.get 1
				0x0b,
			),
		},
	}
	return m.bytes()
}
