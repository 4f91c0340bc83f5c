package chicrt

// Hash set and hash map share one open-addressing skeleton (spec.md §4.6
// Hash containers); this backend represents keys and values as raw i32
// words (pointers or small scalars) rather than arbitrary-size byte blobs,
// trading full generality for a implementation simple enough to host-bridge
// directly — documented as a scope simplification in DESIGN.md. The map
// variant (suffix "_m") additionally stores one i32 value per bucket; the
// set variant's third argument is accepted for call-shape symmetry but
// ignored.
type hashTable struct {
	state   []byte // 0 empty, 1 occupied, 2 tombstone
	hashes  []uint32
	keys    []uint32
	values  []uint32
	isMap   bool
	len     uint32
	tomb    uint32
}

// loadNum/loadDen implement the 7/10 growth threshold of spec.md §4.6.
const loadNum = 7
const loadDen = 10
const minCapacity = 8

var tables = map[uint32]*hashTable{}

func fnv32(key uint32) uint32 {
	h := uint32(2166136261)
	b := []byte{byte(key), byte(key >> 8), byte(key >> 16), byte(key >> 24)}
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	return h
}

func nextPow2(n uint32) uint32 {
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

func getOrCreateTable(addr uint32, isMap bool) *hashTable {
	t, ok := tables[addr]
	if !ok {
		t = &hashTable{state: make([]byte, minCapacity), hashes: make([]uint32, minCapacity), keys: make([]uint32, minCapacity), isMap: isMap}
		if isMap {
			t.values = make([]uint32, minCapacity)
		}
		tables[addr] = t
	}
	return t
}

// findSlot implements find_slot(hash, key): linear probing with mask
// cap-1, recording the first tombstone seen.
func (t *hashTable) findSlot(hash, key uint32) (idx uint32, found bool) {
	cap := uint32(len(t.state))
	mask := cap - 1
	start := hash & mask
	firstTomb := uint32(cap)
	for i := uint32(0); i < cap; i++ {
		slot := (start + i) & mask
		switch t.state[slot] {
		case 0: // empty
			if firstTomb != cap {
				return firstTomb, false
			}
			return slot, false
		case 2: // tombstone
			if firstTomb == cap {
				firstTomb = slot
			}
		case 1:
			if t.hashes[slot] == hash && t.keys[slot] == key {
				return slot, true
			}
		}
	}
	if firstTomb != cap {
		return firstTomb, false
	}
	return 0, false
}

func (t *hashTable) maybeGrow() {
	cap := uint32(len(t.state))
	if (t.len+t.tomb+1)*loadDen <= cap*loadNum {
		return
	}
	needed := 2*(t.len+1) + minCapacity
	t.rehash(nextPow2(needed))
}

func (t *hashTable) rehash(newCap uint32) {
	old := *t
	t.state = make([]byte, newCap)
	t.hashes = make([]uint32, newCap)
	t.keys = make([]uint32, newCap)
	if t.isMap {
		t.values = make([]uint32, newCap)
	}
	t.len = 0
	t.tomb = 0
	for i, st := range old.state {
		if st != 1 {
			continue
		}
		idx, _ := t.findSlot(old.hashes[i], old.keys[i])
		t.state[idx] = 1
		t.hashes[idx] = old.hashes[i]
		t.keys[idx] = old.keys[i]
		if t.isMap {
			t.values[idx] = old.values[i]
		}
		t.len++
	}
}

func registerHashOps(suffix string, isMap bool) {
	register("hash_insert"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		key, aux := args[1].U32(), args[2].U32()
		t.maybeGrow()
		idx, found := t.findSlot(fnv32(key), key)
		if found {
			return []Value{I32(1)}, nil
		}
		t.state[idx] = 1
		t.hashes[idx] = fnv32(key)
		t.keys[idx] = key
		if isMap {
			t.values[idx] = aux
		}
		t.len++
		return []Value{I32(0)}, nil
	})

	register("hash_replace"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		key, aux := args[1].U32(), args[2].U32()
		t.maybeGrow()
		idx, found := t.findSlot(fnv32(key), key)
		t.state[idx] = 1
		t.hashes[idx] = fnv32(key)
		t.keys[idx] = key
		if isMap {
			t.values[idx] = aux
		}
		if !found {
			t.len++
		}
		return []Value{I32(boolToI32(found))}, nil
	})

	register("hash_contains"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		_, found := t.findSlot(fnv32(args[1].U32()), args[1].U32())
		return []Value{I32(boolToI32(found))}, nil
	})

	register("hash_get_ptr"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		idx, found := t.findSlot(fnv32(args[1].U32()), args[1].U32())
		if !found {
			return []Value{I32(0)}, nil
		}
		if isMap {
			return []Value{I32(int32(t.values[idx]))}, nil
		}
		return []Value{I32(int32(t.keys[idx]))}, nil
	})

	register("hash_take"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		key := args[1].U32()
		idx, found := t.findSlot(fnv32(key), key)
		if !found {
			return []Value{I32(0)}, nil
		}
		t.state[idx] = 2
		t.tomb++
		t.len--
		return []Value{I32(1)}, nil
	})

	register("hash_remove"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		key := args[1].U32()
		idx, found := t.findSlot(fnv32(key), key)
		if !found {
			return []Value{I32(0)}, nil
		}
		t.state[idx] = 2
		t.tomb++
		t.len--
		return []Value{I32(1)}, nil
	})

	register("hash_iter"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		return []Value{I32(0)}, nil
	})

	register("hash_iter_next"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		cursor := args[1].U32()
		for i := cursor; i < uint32(len(t.state)); i++ {
			if t.state[i] == 1 {
				return []Value{I32(int32(i + 1))}, nil
			}
		}
		return []Value{I32(-1)}, nil
	})

	register("hash_bucket_state"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		idx := args[1].U32()
		if idx >= uint32(len(t.state)) {
			return []Value{I32(0)}, nil
		}
		return []Value{I32(int32(t.state[idx]))}, nil
	})

	register("hash_bucket_hash"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		idx := args[1].U32()
		if idx >= uint32(len(t.hashes)) {
			return []Value{I32(0)}, nil
		}
		return []Value{I32(int32(t.hashes[idx]))}, nil
	})

	register("hash_take_at"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		idx := args[1].U32()
		if idx >= uint32(len(t.state)) || t.state[idx] != 1 {
			return []Value{I32(0)}, nil
		}
		t.state[idx] = 2
		t.tomb++
		t.len--
		return []Value{I32(1)}, nil
	})

	register("hash_clear"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32); err != nil {
			return nil, err
		}
		delete(tables, args[0].U32())
		return nil, nil
	})

	register("hash_shrink_to"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		min := args[1].U32()
		target := nextPow2(max32(2*t.len+minCapacity, min))
		t.rehash(target)
		return []Value{I32(StatusOK)}, nil
	})

	register("hash_reserve"+suffix, func(rt *Runtime, args []Value) ([]Value, error) {
		if err := expect(args, KindI32, KindI32); err != nil {
			return nil, err
		}
		t := getOrCreateTable(args[0].U32(), isMap)
		additional := args[1].U32()
		needed := t.len + additional
		if needed*loadDen > uint32(len(t.state))*loadNum {
			t.rehash(nextPow2(2*needed + minCapacity))
		}
		return []Value{I32(StatusOK)}, nil
	})
}

func boolToI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func init() {
	registerHashOps("", false)
	registerHashOps("_m", true)
}
