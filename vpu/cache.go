package vpu

import (
	"container/list"
	"encoding/binary"
	"math"
)

// LRUCache memoizes scalar predictions by NN descriptor. Keys are the
// exact bit pattern of the descriptor vector; two descriptors that are
// semantically equal but differ in any bit miss each other.
type LRUCache struct {
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type cacheEntry struct {
	key   string
	value float32
}

// NewLRUCache builds a cache holding at most capacity entries. A zero
// or negative capacity disables caching.
func NewLRUCache(capacity int) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// descriptorKey flattens the float vector into its raw little-endian
// bit pattern.
func descriptorKey(descriptor []float32) string {
	buf := make([]byte, 4*len(descriptor))
	for i, v := range descriptor {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return string(buf)
}

// Get looks a descriptor up, marking it most recently used on a hit.
func (c *LRUCache) Get(descriptor []float32) (float32, bool) {
	if c.capacity <= 0 {
		return 0, false
	}
	elem, ok := c.entries[descriptorKey(descriptor)]
	if !ok {
		return 0, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).value, true
}

// Add stores a prediction, evicting the least recently used entry when
// full. Adding an existing key updates both the value and its recency.
func (c *LRUCache) Add(descriptor []float32, value float32) {
	if c.capacity <= 0 {
		return
	}
	key := descriptorKey(descriptor)
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).value = value
		c.order.MoveToFront(elem)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
}

// Len is the current number of cached predictions.
func (c *LRUCache) Len() int {
	return c.order.Len()
}
