package chicrt

import (
	"github.com/pkg/errors"

	"github.com/Chic-lang/Chic-sub011/internal/chiclog"
)

// borrowRecord tracks the live borrows against one address: either any
// number of stacked shared borrows, or exactly one unique borrow, never
// both at once (spec.md §4.6 Borrow tracker).
type borrowRecord struct {
	unique      bool
	sharedCount uint32
}

// borrowTracker is keyed by address; byID remembers which address each live
// borrow_id targets so borrow_release doesn't need the address repeated.
type borrowTracker struct {
	byAddr map[uint32]*borrowRecord
	byID   map[uint32]uint32
}

func newBorrowTracker() *borrowTracker {
	return &borrowTracker{byAddr: map[uint32]*borrowRecord{}, byID: map[uint32]uint32{}}
}

func init() {
	register("borrow_shared", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, id := args[0].U32(), args[1].U32()
		t := rt.borrows
		if existing, ok := t.byID[id]; ok && existing != addr {
			return nil, errors.Errorf("chic_rt: borrow id %d re-acquired against a different address", id)
		}
		rec, ok := t.byAddr[addr]
		if !ok {
			rec = &borrowRecord{}
			t.byAddr[addr] = rec
		}
		if rec.unique {
			return nil, errors.Errorf("chic_rt: shared borrow of %#x conflicts with a live unique borrow", addr)
		}
		rec.sharedCount++
		t.byID[id] = addr
		chiclog.Scoped(chiclog.ScopeBorrow, chiclog.WithBorrow(id), "shared borrow acquired")
		return nil, nil
	})

	register("borrow_unique", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		addr, id := args[0].U32(), args[1].U32()
		t := rt.borrows
		if existing, ok := t.byID[id]; ok && existing != addr {
			return nil, errors.Errorf("chic_rt: borrow id %d re-acquired against a different address", id)
		}
		rec, ok := t.byAddr[addr]
		if !ok {
			rec = &borrowRecord{}
			t.byAddr[addr] = rec
		}
		if rec.unique || rec.sharedCount > 0 {
			return nil, errors.Errorf("chic_rt: unique borrow of %#x conflicts with a live borrow", addr)
		}
		rec.unique = true
		t.byID[id] = addr
		return nil, nil
	})

	register("borrow_release", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		id := args[0].U32()
		t := rt.borrows
		addr, ok := t.byID[id]
		if !ok {
			return nil, nil
		}
		rec := t.byAddr[addr]
		if rec == nil {
			delete(t.byID, id)
			return nil, nil
		}
		if rec.unique {
			rec.unique = false
		} else if rec.sharedCount > 0 {
			rec.sharedCount--
		}
		delete(t.byID, id)
		if !rec.unique && rec.sharedCount == 0 {
			delete(t.byAddr, addr)
		}
		return nil, nil
	})

	register("drop_resource", func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		addr := args[0].U32()
		if rec, ok := rt.borrows.byAddr[addr]; ok && (rec.unique || rec.sharedCount > 0) {
			return nil, errors.Errorf("chic_rt: dropping %#x with a live borrow outstanding", addr)
		}
		return nil, nil
	})
}
