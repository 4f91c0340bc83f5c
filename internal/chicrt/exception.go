package chicrt

// exceptionSlot holds at most one in-flight exception, per spec.md §4.6
// Exception channel: throw publishes into it, has_pending_exception/
// take_pending_exception are the only way code ever reads it back out.
type exceptionSlot struct {
	pending bool
	ptr     uint32
	code    int64
}

func init() {
	register("has_pending_exception", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args); err != nil {
			return nil, err
		}
		return []Value{I32(boolToI32(rt.exception.pending))}, nil
	})

	register("take_pending_exception", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		ptrOut, codeOut := args[0].U32(), args[1].U32()
		if !rt.exception.pending {
			return []Value{I32(0)}, nil
		}
		b := make([]byte, 4)
		putU32(b, rt.exception.ptr)
		rt.Mem.Write(ptrOut, b)
		putU32(b, uint32(rt.exception.code))
		rt.Mem.Write(codeOut, b)
		rt.exception = exceptionSlot{}
		return []Value{I32(1)}, nil
	})
}
