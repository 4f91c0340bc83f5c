package interpreter

import "github.com/pkg/errors"

// pageSize is the wasm linear memory page size (64 KiB), fixed by the spec.
const pageSize = 65536

// defaultMaxPages is the memory.grow bound used when the module declares no
// Max; a declared Max bounds growth the same way a real wasm32 engine would.
const defaultMaxPages = 4096

// linearMemory is the byte-slice-backed memory the interpreter and, through
// it, internal/chicrt read and write. It implements chicrt.Memory directly
// so the runtime bridge never needs its own copy of the bytes.
type linearMemory struct {
	data    []byte
	maxPages uint32
}

func newLinearMemory(minPages, maxPages uint32) *linearMemory {
	if maxPages == 0 {
		maxPages = defaultMaxPages
	}
	return &linearMemory{data: make([]byte, minPages*pageSize), maxPages: maxPages}
}

func (m *linearMemory) Size() uint32 { return uint32(len(m.data)) }

func (m *linearMemory) pages() uint32 { return uint32(len(m.data)) / pageSize }

func (m *linearMemory) Grow(deltaPages uint32) (previousPages uint32, ok bool) {
	previousPages = m.pages()
	if previousPages+deltaPages > m.maxPages {
		return previousPages, false
	}
	m.data = append(m.data, make([]byte, deltaPages*pageSize)...)
	return previousPages, true
}

func (m *linearMemory) Read(ptr, n uint32) []byte {
	if n == 0 {
		return nil
	}
	end := uint64(ptr) + uint64(n)
	if end > uint64(len(m.data)) {
		panic(trapError{errors.Errorf("out of bounds memory access: offset %d size %d", ptr, n)})
	}
	out := make([]byte, n)
	copy(out, m.data[ptr:end])
	return out
}

func (m *linearMemory) Write(ptr uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	end := uint64(ptr) + uint64(len(data))
	if end > uint64(len(m.data)) {
		panic(trapError{errors.Errorf("out of bounds memory access: offset %d size %d", ptr, len(data))})
	}
	copy(m.data[ptr:end], data)
}

// trapError is recovered in CallWithOptions so that an out-of-bounds
// access deep in a chicrt call unwinds exactly like a wasm trap, without
// threading an error return through every Memory call site.
type trapError struct{ err error }
