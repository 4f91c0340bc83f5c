package chicrt

import "time"

// env.* are best-effort host I/O shims (spec.md §6): enough surface for
// generated code to print, read, and query the clock, without pretending to
// be a real POSIX layer. pthread_create_stub/socket_stub always fail —
// this interpreter is single-threaded and has no socket layer.
func init() {
	register("write", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		_, ptr, length := args[0].U32(), args[1].U32(), args[2].U32()
		rt.hostOut = append(rt.hostOut, rt.Mem.Read(ptr, length)...)
		return []Value{I32(int32(length))}, nil
	})

	register("read", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		return []Value{I32(0)}, nil
	})

	register("isatty", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		return []Value{I32(0)}, nil
	})

	register("monotonic_nanos", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args); err != nil {
			return nil, err
		}
		return []Value{I64(time.Now().UnixNano())}, nil
	})

	register("sleep_millis", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI64); err != nil {
			return nil, err
		}
		return nil, nil
	})

	register("pthread_create_stub", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		return []Value{I32(-1)}, nil
	})

	register("socket_stub", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		return []Value{I32(-1)}, nil
	})
}
