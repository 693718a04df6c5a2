package chunk

import (
	"sort"
	"sync"

	"voxelterrain.dev/internal/sim/terrain/voxel"
)

// Cache owns every chunk ever requested. It only grows.
type Cache struct {
	dims voxel.Dims

	mu     sync.Mutex
	chunks map[Key]*Chunk
}

func NewCache(d voxel.Dims) *Cache {
	return &Cache{dims: d, chunks: map[Key]*Chunk{}}
}

func (c *Cache) Dims() voxel.Dims { return c.dims }

// GetOrCreate returns the chunk at k, inserting a fresh NotGenerated one if absent.
func (c *Cache) GetOrCreate(k Key) *Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.chunks[k]; ok {
		return ch
	}
	ch := New(k, c.dims)
	c.chunks[k] = ch
	return ch
}

func (c *Cache) Lookup(k Key) (*Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chunks[k]
	return ch, ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

// Keys returns all cached keys sorted by CX then CZ.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.chunks))
	for k := range c.chunks {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// Counts tallies cached chunks by state.
func (c *Cache) Counts() map[State]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[State]int{}
	for _, ch := range c.chunks {
		out[ch.State()]++
	}
	return out
}
