package chicrt

import "github.com/pkg/errors"

// asyncScheduler is the set of future base addresses polled once so far
// (spec.md §4.6 Async scheduler). This bridge has no real I/O-driven
// executor behind it: pollOnce reports an address not ready the first time
// and ready (clearing its entry) the next time, which is
// enough to drive the emitted poll/resume state machine through its suspend
// points without a genuine blocking I/O source. Documented as a
// simplification in DESIGN.md.
type asyncScheduler struct {
	seen map[uint32]bool
}

func newAsyncScheduler() *asyncScheduler {
	return &asyncScheduler{seen: map[uint32]bool{}}
}

func (s *asyncScheduler) pollOnce(addr uint32) bool {
	if s.seen[addr] {
		delete(s.seen, addr)
		return true
	}
	s.seen[addr] = true
	return false
}

// tokenState is one async_token_new handle's bookkeeping. state starts at 0
// and nothing in chic_rt changes it; async_token_state returns it.
type tokenState struct {
	state     int32
	cancelled bool
}

// stallBudget bounds await_future_blocking's poll loop (spec.md §4.6: 4096
// polls).
const stallBudget = 4096

func init() {
	register("await_future_once", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		ready := rt.scheduler.pollOnce(args[0].U32())
		return []Value{I32(boolToI32(ready))}, nil
	})

	register("await_future_blocking", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, budget := args[0].U32(), args[1].U32()
		if budget == 0 || budget > stallBudget {
			budget = stallBudget
		}
		for i := uint32(0); i < budget; i++ {
			if rt.scheduler.pollOnce(addr) {
				return []Value{I32(1)}, nil
			}
		}
		return []Value{I32(0)}, nil
	})

	register("cancel_future", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		delete(rt.scheduler.seen, args[0].U32())
		return nil, nil
	})

	register("async_token_new", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args); err != nil {
			return nil, err
		}
		rt.nextToken++
		rt.asyncToken[rt.nextToken] = &tokenState{}
		return []Value{I32(rt.nextToken)}, nil
	})

	register("async_token_state", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		tok, ok := rt.asyncToken[args[0].I32]
		if !ok {
			return nil, errors.Errorf("chic_rt: unknown async token %d", args[0].I32)
		}
		return []Value{I32(tok.state)}, nil
	})

	register("async_token_cancel", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		if tok, ok := rt.asyncToken[args[0].I32]; ok {
			tok.cancelled = true
		}
		return nil, nil
	})
}
