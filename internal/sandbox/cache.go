package sandbox

import (
	"container/list"
	"context"
	"crypto/sha256"
	"sync"

	"github.com/tetratelabs/wazero"
)

// moduleKey is the content address of a module: SHA-256 of its bytes.
// Caching is keyed on content, so the caller's byte slice is never
// retained, only the compiled artifact.
type moduleKey [sha256.Size]byte

type cacheEntry struct {
	key      moduleKey
	compiled wazero.CompiledModule
	elem     *list.Element
	refs     int
	evicted  bool
}

// compileCache holds compiled modules with LRU eviction. Entries are
// refcounted: an entry evicted while an invocation still runs on it is
// closed only when the last reference is released.
type compileCache struct {
	capacity int
	entries  map[moduleKey]*cacheEntry
	order    *list.List // front = most recently used
	mu       sync.Mutex

	hits   uint64
	misses uint64
}

func newCompileCache(capacity int) *compileCache {
	if capacity <= 0 {
		capacity = 64
	}
	return &compileCache{
		capacity: capacity,
		entries:  make(map[moduleKey]*cacheEntry),
		order:    list.New(),
	}
}

// get returns a referenced entry for the key, or nil on miss
func (c *compileCache) get(key moduleKey) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil
	}
	c.hits++
	c.order.MoveToFront(entry.elem)
	entry.refs++
	return entry
}

// put stores a compiled module and returns a referenced entry. If another
// goroutine raced the compile, the existing entry wins and the caller's
// module is closed.
func (c *compileCache) put(ctx context.Context, key moduleKey, compiled wazero.CompiledModule) *cacheEntry {
	c.mu.Lock()

	if existing, ok := c.entries[key]; ok {
		c.order.MoveToFront(existing.elem)
		existing.refs++
		c.mu.Unlock()
		_ = compiled.Close(ctx)
		return existing
	}

	entry := &cacheEntry{key: key, compiled: compiled, refs: 1}
	entry.elem = c.order.PushFront(entry)
	c.entries[key] = entry

	var stale []*cacheEntry
	for len(c.entries) > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		victim := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.entries, victim.key)
		victim.evicted = true
		if victim.refs == 0 {
			stale = append(stale, victim)
		}
	}
	c.mu.Unlock()

	for _, victim := range stale {
		_ = victim.compiled.Close(ctx)
	}
	return entry
}

// release drops a reference, closing the module if it was evicted
func (c *compileCache) release(ctx context.Context, entry *cacheEntry) {
	c.mu.Lock()
	entry.refs--
	closeNow := entry.evicted && entry.refs == 0
	c.mu.Unlock()

	if closeNow {
		_ = entry.compiled.Close(ctx)
	}
}

// stats returns hit/miss counters and current entry count
func (c *compileCache) stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

// close releases every cached module
func (c *compileCache) close(ctx context.Context) {
	c.mu.Lock()
	entries := make([]*cacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
		entry.evicted = true
	}
	c.entries = make(map[moduleKey]*cacheEntry)
	c.order.Init()
	c.mu.Unlock()

	for _, entry := range entries {
		_ = entry.compiled.Close(ctx)
	}
}
