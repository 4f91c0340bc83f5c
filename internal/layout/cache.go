package layout

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// synthCache is the process-wide intern table for synthesised generic
// layouts (Future<T>, Task<T>, ...), keyed by canonical name. Design Notes
// calls for "a once-initialised reader-writer structure" whose readers get a
// stable shared reference to the cached value even though compilation itself
// is single-threaded in this component — test harnesses and concurrent
// `chic build` invocations within one process exercise it from multiple
// goroutines in practice, so the cache takes its own lock rather than
// leaning on the Table's.
type synthCache struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *TypeLayout]
}

// synthCacheCapacity bounds the intern table; a compilation unit rarely
// instantiates more than a few hundred distinct generic arguments for the
// two synthesised generics (Future<T>, Task<T>).
const synthCacheCapacity = 4096

func newSynthCache() *synthCache {
	c, _ := lru.New[string, *TypeLayout](synthCacheCapacity)
	return &synthCache{cache: c}
}

func (s *synthCache) get(name string) (*TypeLayout, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Get(name)
}

func (s *synthCache) put(name string, l *TypeLayout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(name, l)
}
