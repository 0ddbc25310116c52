package sandbox

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// Names probed for the guest allocator when byte or string arguments
// must be copied into linear memory.
var allocatorNames = []string{"malloc", "alloc", "allocate"}

// loweredArgs is the stack-slot form of an argument list
type loweredArgs struct {
	slots []uint64
	types []api.ValueType
	// argIndex maps each slot back to the argument that produced it,
	// so mismatches report the caller's position, not the slot's
	argIndex []int
}

// lowerArgs converts Values to the raw stack slots wazero expects.
// Numeric kinds map one-to-one; bytes and strings are copied into guest
// memory through the module's exported allocator and passed as (ptr, len).
func lowerArgs(ctx context.Context, mod api.Module, args []Value) (*loweredArgs, error) {
	lowered := &loweredArgs{}

	for i, arg := range args {
		switch arg.Kind() {
		case KindI32:
			v, _ := arg.AsI32()
			lowered.push(api.EncodeI32(v), api.ValueTypeI32, i)
		case KindI64:
			v, _ := arg.AsI64()
			lowered.push(api.EncodeI64(v), api.ValueTypeI64, i)
		case KindF32:
			v, _ := arg.AsF32()
			lowered.push(api.EncodeF32(v), api.ValueTypeF32, i)
		case KindF64:
			v, _ := arg.AsF64()
			lowered.push(api.EncodeF64(v), api.ValueTypeF64, i)
		case KindBytes, KindString:
			data := arg.bytes
			ptr, err := copyIn(ctx, mod, data, i)
			if err != nil {
				return nil, err
			}
			lowered.push(api.EncodeI32(int32(ptr)), api.ValueTypeI32, i)
			lowered.push(api.EncodeI32(int32(len(data))), api.ValueTypeI32, i)
		case KindList:
			return nil, Errorf(TypeMismatch, "argument %d: list values cannot cross the execution boundary", i)
		default:
			return nil, Errorf(TypeMismatch, "argument %d: invalid value", i)
		}
	}
	return lowered, nil
}

func (l *loweredArgs) push(slot uint64, vt api.ValueType, arg int) {
	l.slots = append(l.slots, slot)
	l.types = append(l.types, vt)
	l.argIndex = append(l.argIndex, arg)
}

// checkSignature verifies the lowered slots against the target function
func (l *loweredArgs) checkSignature(function string, defn api.FunctionDefinition) error {
	params := defn.ParamTypes()
	if len(params) != len(l.slots) {
		return Errorf(ArityMismatch, "%s takes %d parameters, lowered arguments fill %d",
			function, len(params), len(l.slots))
	}

	for i, want := range params {
		switch want {
		case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		default:
			return Errorf(TypeMismatch, "%s parameter %d has unsupported type %s",
				function, i, api.ValueTypeName(want))
		}
		if l.types[i] != want {
			return Errorf(TypeMismatch, "argument %d: have %s, %s wants %s",
				l.argIndex[i], api.ValueTypeName(l.types[i]), function, api.ValueTypeName(want))
		}
	}
	return nil
}

// copyIn places data into guest memory via the exported allocator
func copyIn(ctx context.Context, mod api.Module, data []byte, arg int) (uint32, error) {
	mem := mod.Memory()
	if mem == nil {
		return 0, Errorf(TypeMismatch, "argument %d: module exports no memory for byte arguments", arg)
	}

	var alloc api.Function
	for _, name := range allocatorNames {
		if fn := mod.ExportedFunction(name); fn != nil {
			alloc = fn
			break
		}
	}
	if alloc == nil {
		return 0, Errorf(TypeMismatch, "argument %d: module exports no allocator for byte arguments", arg)
	}

	results, err := alloc.Call(ctx, uint64(uint32(len(data))))
	if err != nil {
		return 0, WrapError(ExecutionTrap, err, "guest allocator failed")
	}
	if len(results) != 1 {
		return 0, Errorf(ExecutionTrap, "guest allocator returned %d values", len(results))
	}

	ptr := api.DecodeU32(results[0])
	if len(data) > 0 && !mem.Write(ptr, data) {
		return 0, Errorf(ExecutionTrap, "guest allocator returned pointer outside linear memory")
	}
	return ptr, nil
}

// raiseResults converts raw result slots back to a single Value:
// no results become an empty list, one result is returned directly,
// multi-value results become a list.
func raiseResults(defn api.FunctionDefinition, results []uint64) (Value, error) {
	types := defn.ResultTypes()
	if len(results) != len(types) {
		return Value{}, Errorf(Internal, "engine returned %d values for %d result types", len(results), len(types))
	}

	values := make([]Value, 0, len(results))
	for i, raw := range results {
		switch types[i] {
		case api.ValueTypeI32:
			values = append(values, I32(api.DecodeI32(raw)))
		case api.ValueTypeI64:
			values = append(values, I64(int64(raw)))
		case api.ValueTypeF32:
			values = append(values, F32(api.DecodeF32(raw)))
		case api.ValueTypeF64:
			values = append(values, F64(api.DecodeF64(raw)))
		default:
			return Value{}, Errorf(TypeMismatch, "result %d has unsupported type %s", i, api.ValueTypeName(types[i]))
		}
	}

	switch len(values) {
	case 0:
		return List(), nil
	case 1:
		return values[0], nil
	default:
		return List(values...), nil
	}
}
