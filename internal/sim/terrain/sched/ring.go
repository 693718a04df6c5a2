package sched

import "voxelterrain.dev/internal/sim/terrain/chunk"

// Ring returns the offsets at Manhattan distance i from the center: the center
// itself for i == 0, otherwise 4*i points traced around the diamond starting at (i, 0).
func Ring(i int) []chunk.Key {
	if i <= 0 {
		return []chunk.Key{{}}
	}
	out := make([]chunk.Key, 0, 4*i)
	arms := [4][2]int{{-1, 1}, {-1, -1}, {1, -1}, {1, 1}}
	p := chunk.Key{CX: i, CZ: 0}
	for _, a := range arms {
		for s := 0; s < i; s++ {
			out = append(out, p)
			p = p.Add(a[0], a[1])
		}
	}
	return out
}

// Count is the number of chunks in rings 0..r.
func Count(r int) int {
	if r < 0 {
		return 0
	}
	return 1 + 2*r*(r+1)
}

// Spiral lists the chunks of rings 0..r around center, innermost ring first.
func Spiral(center chunk.Key, r int) []chunk.Key {
	out := make([]chunk.Key, 0, Count(r))
	for i := 0; i <= r; i++ {
		for _, o := range Ring(i) {
			out = append(out, center.Add(o.CX, o.CZ))
		}
	}
	return out
}
