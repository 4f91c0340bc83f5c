package chicrt

import (
	"github.com/pkg/errors"

	"github.com/Chic-lang/Chic-sub011/internal/chiclog"
)

// panic and abort read the {data_ptr, len} message record at the address
// their single i32 argument carries; both unwind the interpreter via a returned error
// rather than any in-band status value, matching spec.md §4.6's "traps
// unwind via Err" contract.
func init() {
	register("panic", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		ptr, length := readDataLen(rt, args[0].U32())
		msg := string(rt.Mem.Read(ptr, length))
		chiclog.Scoped(chiclog.ScopePanic, chiclog.WithImport("panic"), msg)
		return nil, errors.Errorf("panic: %s", msg)
	})

	register("abort", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		ptr, length := readDataLen(rt, args[0].U32())
		msg := string(rt.Mem.Read(ptr, length))
		return nil, errors.Errorf("abort: %s", msg)
	})

	register("throw", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI64); err != nil {
			return nil, err
		}
		rt.exception = exceptionSlot{pending: true, ptr: args[0].U32(), code: args[1].I64}
		chiclog.Scoped(chiclog.ScopeThrow, chiclog.WithImport("throw"), "exception raised")
		return nil, nil
	})

	// await/yield are the generic suspend primitives generated code calls
	// outside the poll-body frame machinery (e.g. from a hand-written
	// extern shim). await polls its second argument through the same
	// ready-after-one-poll scheduler as await_future_once; yield always
	// returns 1.
	register("await", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		ready := rt.scheduler.pollOnce(args[1].U32())
		return []Value{I32(boolToI32(ready))}, nil
	})

	register("yield", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		return []Value{I32(1)}, nil
	})

	register("async_cancel", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		return []Value{I32(1)}, nil
	})
}
