// Package chunk holds one column of voxels together with its generation state,
// and the cache that maps chunk coordinates to chunks.
//
// A chunk moves NotGenerated -> Generated (worker finished, mesh pending upload)
// -> Updated (mesh uploaded, chunk visible). ResetState sends it back to
// NotGenerated. The worker only writes the grid while the chunk is NotGenerated;
// everyone else reads it only after Generated.
package chunk

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.dev/internal/sim/terrain/mesh"
	"voxelterrain.dev/internal/sim/terrain/voxel"
)

var ErrState = errors.New("chunk: invalid state transition")

type Key struct {
	CX int
	CZ int
}

func (k Key) Add(dx, dz int) Key { return Key{CX: k.CX + dx, CZ: k.CZ + dz} }

func (k Key) String() string { return fmt.Sprintf("[%d, %d]", k.CX, k.CZ) }

type State int32

const (
	NotGenerated State = iota
	Generated
	Updated
)

func (s State) String() string {
	switch s {
	case NotGenerated:
		return "NOT_GENERATED"
	case Generated:
		return "GENERATED"
	case Updated:
		return "UPDATED"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

type Chunk struct {
	key  Key
	grid *voxel.Grid

	state  atomic.Int32
	locked atomic.Bool
	queued atomic.Bool

	mu   sync.Mutex // transitions and mesh
	mesh mesh.Buffer
}

// New returns an all-air chunk, NotGenerated and locked.
func New(k Key, d voxel.Dims) *Chunk {
	c := &Chunk{key: k, grid: voxel.NewGrid(d)}
	c.locked.Store(true)
	return c
}

func (c *Chunk) Key() Key { return c.key }

func (c *Chunk) State() State { return State(c.state.Load()) }

func (c *Chunk) NeedsGeneration() bool { return c.State() == NotGenerated }

func (c *Chunk) IsGenerated() bool { return c.State() == Generated }

func (c *Chunk) IsUpdated() bool { return c.State() == Updated }

// Locked reports whether the chunk's geometry must stay hidden.
func (c *Chunk) Locked() bool { return c.locked.Load() }

// Origin is the world position of voxel (0,0,0).
func (c *Chunk) Origin() mgl32.Vec3 {
	d := c.grid.Dims()
	return mgl32.Vec3{float32(c.key.CX * d.X), 0, float32(c.key.CZ * d.Z)}
}

// Voxels exposes the grid. See the package doc for who may touch it when.
func (c *Chunk) Voxels() *voxel.Grid { return c.grid }

// MarkQueued claims the chunk for one generation task. It fails if a task is already pending.
func (c *Chunk) MarkQueued() bool { return c.queued.CompareAndSwap(false, true) }

func (c *Chunk) Queued() bool { return c.queued.Load() }

// Finish stores the worker's mesh and publishes the chunk as Generated.
func (c *Chunk) Finish(b mesh.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != NotGenerated {
		return fmt.Errorf("%w: finish %v from %v", ErrState, c.key, c.State())
	}
	c.mesh = b
	c.state.Store(int32(Generated))
	c.queued.Store(false)
	return nil
}

// Abort releases the queue claim after a failed task. The chunk stays NotGenerated
// so the next update retries it.
func (c *Chunk) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Store(int32(NotGenerated))
	c.locked.Store(true)
	c.queued.Store(false)
}

// CommitMesh moves a Generated chunk to Updated, unlocks it and hands back the mesh
// for upload. It reports false for any other state.
func (c *Chunk) CommitMesh() (mesh.Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != Generated {
		return mesh.Buffer{}, false
	}
	c.state.Store(int32(Updated))
	c.locked.Store(false)
	return c.mesh, true
}

// Mesh returns the uploaded mesh, or false while the chunk is locked.
func (c *Chunk) Mesh() (mesh.Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked.Load() {
		return mesh.Buffer{}, false
	}
	return c.mesh, true
}

// ResetState forces the chunk back to NotGenerated and hides it.
func (c *Chunk) ResetState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Store(int32(NotGenerated))
	c.locked.Store(true)
	c.mesh = mesh.Buffer{}
}

// Digest is the hex sha256 of the voxel codes. Call it only once the chunk is Generated.
func (c *Chunk) Digest() string { return c.grid.Digest() }
