// Package pick intersects rays with chunk voxels using the slab method.
package pick

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.dev/internal/sim/terrain/voxel"
)

// Epsilon below which a ray direction component counts as parallel to that axis.
// A parallel axis has no slab distances; the ray misses if its origin lies outside
// the box on that axis and the axis is skipped otherwise.
const Epsilon = 1e-6

type Hit struct {
	Distance float32
	Voxel    [3]int // local to the chunk
	Type     voxel.Type
}

// Box is an axis-aligned box.
type Box struct {
	Min, Max mgl32.Vec3
}

// Ray returns the entry distance along dir (a unit vector) from origin into b.
// A ray starting inside b hits at distance 0. A ray parallel to an axis (see Epsilon)
// misses when its origin is outside b's extent on that axis.
func (b Box) Ray(origin, dir mgl32.Vec3) (float32, bool) {
	tMin := float32(0)
	tMax := float32(math.MaxFloat32)
	for a := 0; a < 3; a++ {
		if abs32(dir[a]) < Epsilon {
			if origin[a] < b.Min[a] || origin[a] > b.Max[a] {
				return 0, false
			}
			continue
		}
		t1 := (b.Min[a] - origin[a]) / dir[a]
		t2 := (b.Max[a] - origin[a]) / dir[a]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tMin {
			tMin = t1
		}
		if t2 < tMax {
			tMax = t2
		}
		if tMin > tMax {
			return 0, false
		}
	}
	return tMin, true
}

// Grid returns the nearest solid voxel of g hit by the ray. chunkOrigin is the world
// position of voxel (0,0,0); origin and dir are in world space and dir need not be
// normalized. Distance is in world units.
func Grid(g *voxel.Grid, chunkOrigin, origin, dir mgl32.Vec3) (Hit, bool) {
	if dir.Len() < Epsilon {
		return Hit{}, false
	}
	dir = dir.Normalize()
	d := g.Dims()
	bounds := Box{Min: chunkOrigin, Max: chunkOrigin.Add(mgl32.Vec3{float32(d.X), float32(d.Y), float32(d.Z)})}
	if _, ok := bounds.Ray(origin, dir); !ok {
		return Hit{}, false
	}

	best := Hit{Distance: float32(math.MaxFloat32)}
	found := false
	cells := g.Cells()
	for i, t := range cells {
		if !t.Solid() {
			continue
		}
		x, y, z := d.Coord(i)
		min := chunkOrigin.Add(mgl32.Vec3{float32(x), float32(y), float32(z)})
		box := Box{Min: min, Max: min.Add(mgl32.Vec3{1, 1, 1})}
		dist, ok := box.Ray(origin, dir)
		if !ok || dist >= best.Distance {
			continue
		}
		best = Hit{Distance: dist, Voxel: [3]int{x, y, z}, Type: t}
		found = true
	}
	return best, found
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
