// Package mesh turns voxel grids into interleaved vertex buffers.
//
// Greedy buffers carry 10 floats per vertex (position xyz, normal xyz, color rgba)
// and six vertices (two triangles) per quad. Point buffers carry 7 floats per vertex
// (position xyz, color rgba), one vertex per visible voxel.
package mesh

import (
	"log"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.dev/internal/sim/terrain/voxel"
)

const (
	FloatsPerVertex      = 10
	PointFloatsPerVertex = 7
	VerticesPerQuad      = 6
)

type Mode int

const (
	Greedy Mode = iota
	Points
)

func (m Mode) String() string {
	if m == Points {
		return "points"
	}
	return "greedy"
}

// ParseMode accepts "greedy" (or empty) and "points".
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "greedy":
		return Greedy, true
	case "points":
		return Points, true
	}
	return Greedy, false
}

// Buffer is a built mesh. Vertices are chunk-local.
type Buffer struct {
	Mode      Mode
	Vertices  []float32
	Triangles int
}

func (b Buffer) stride() int {
	if b.Mode == Points {
		return PointFloatsPerVertex
	}
	return FloatsPerVertex
}

func (b Buffer) VertexCount() int { return len(b.Vertices) / b.stride() }

func (b Buffer) ByteSize() int { return len(b.Vertices) * 4 }

func (b Buffer) Empty() bool { return len(b.Vertices) == 0 }

// Desc is what a render-side sink receives: the raw floats plus sizes, and the chunk's
// world translation.
type Desc struct {
	Origin      mgl32.Vec3
	Mode        Mode
	Data        []float32
	ByteSize    int
	VertexCount int
	Triangles   int
}

func (b Buffer) Desc(origin mgl32.Vec3) Desc {
	return Desc{
		Origin:      origin,
		Mode:        b.Mode,
		Data:        b.Vertices,
		ByteSize:    b.ByteSize(),
		VertexCount: b.VertexCount(),
		Triangles:   b.Triangles,
	}
}

// Builder builds meshes. A nil Log silences data-consistency warnings.
type Builder struct {
	Mode Mode
	Log  *log.Logger
}

func (b *Builder) Build(g *voxel.Grid) Buffer {
	missing := map[voxel.Type]int{}
	culled := Cull(g, missing)
	b.reportMissing(missing)

	if b.Mode == Points {
		return buildPoints(culled)
	}

	out := Buffer{Mode: Greedy}
	for _, f := range Faces {
		for _, q := range Sweep(g, culled, f) {
			out.Vertices = appendQuad(out.Vertices, q, f)
			out.Triangles += 2
		}
	}
	return out
}

func (b *Builder) reportMissing(missing map[voxel.Type]int) {
	if b.Log == nil || len(missing) == 0 {
		return
	}
	types := make([]voxel.Type, 0, len(missing))
	for t := range missing {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		b.Log.Printf("mesh: voxel %v missing from palette; skipped %d voxels", t, missing[t])
	}
}

// Cull returns a copy of g keeping only renderable voxels that sit on the chunk boundary
// or touch air on at least one face. Everything else becomes Air. Solid voxels without
// a palette color are dropped and counted in missing (which may be nil).
func Cull(g *voxel.Grid, missing map[voxel.Type]int) *voxel.Grid {
	d := g.Dims()
	out := voxel.NewGrid(d)
	for x := 0; x < d.X; x++ {
		for y := 0; y < d.Y; y++ {
			for z := 0; z < d.Z; z++ {
				t := g.Get(x, y, z)
				if !t.Solid() {
					continue
				}
				interior := x > 0 && x < d.X-1 && y > 0 && y < d.Y-1 && z > 0 && z < d.Z-1
				if interior &&
					g.Get(x+1, y, z) != voxel.Air && g.Get(x-1, y, z) != voxel.Air &&
					g.Get(x, y+1, z) != voxel.Air && g.Get(x, y-1, z) != voxel.Air &&
					g.Get(x, y, z+1) != voxel.Air && g.Get(x, y, z-1) != voxel.Air {
					continue
				}
				if _, ok := voxel.Color(t); !ok {
					if missing != nil {
						missing[t]++
					}
					continue
				}
				out.Set(x, y, z, t)
			}
		}
	}
	return out
}

func buildPoints(culled *voxel.Grid) Buffer {
	out := Buffer{Mode: Points}
	d := culled.Dims()
	for x := 0; x < d.X; x++ {
		for y := 0; y < d.Y; y++ {
			for z := 0; z < d.Z; z++ {
				t := culled.Get(x, y, z)
				if !t.Solid() {
					continue
				}
				c, _ := voxel.Color(t)
				out.Vertices = append(out.Vertices,
					float32(x)+0.5, float32(y)+0.5, float32(z)+0.5,
					c[0], c[1], c[2], c[3])
			}
		}
	}
	return out
}
