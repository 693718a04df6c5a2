package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.dev/internal/sim/terrain/voxel"
)

// Face is one of the six axis-aligned face directions.
type Face struct {
	Axis int // 0=X 1=Y 2=Z
	Sign int // +1 or -1
}

var Faces = [6]Face{
	{Axis: 0, Sign: +1}, {Axis: 0, Sign: -1},
	{Axis: 1, Sign: +1}, {Axis: 1, Sign: -1},
	{Axis: 2, Sign: +1}, {Axis: 2, Sign: -1},
}

// InPlane returns the width (u) and height (v) axes. u x v points along +Axis.
func (f Face) InPlane() (u, v int) {
	return (f.Axis + 1) % 3, (f.Axis + 2) % 3
}

func (f Face) Normal() mgl32.Vec3 {
	var n mgl32.Vec3
	n[f.Axis] = float32(f.Sign)
	return n
}

// Quad is a merged rectangle of same-type faces: W voxels along u, H along v.
type Quad struct {
	Origin mgl32.Vec3
	W, H   int
	Type   voxel.Type
}

// Sweep scans culled slice by slice along f.Axis. Within a slice each row along u is
// split into runs of same-type voxels whose face toward f is exposed (neighbor is air or
// outside the chunk, judged on src). A run identical in start, width and type to a run in
// the previous row grows that quad's height instead of opening a new one.
func Sweep(src, culled *voxel.Grid, f Face) []Quad {
	d := culled.Dims()
	u, v := f.InPlane()
	nd, nu, nv := d.Axis(f.Axis), d.Axis(u), d.Axis(v)

	var p [3]int
	at := func(s, i, j int) voxel.Type {
		p[f.Axis], p[u], p[v] = s, i, j
		return culled.Get(p[0], p[1], p[2])
	}
	exposed := func(s, i, j int) bool {
		ns := s + f.Sign
		if ns < 0 || ns >= nd {
			return true
		}
		p[f.Axis], p[u], p[v] = ns, i, j
		return src.Get(p[0], p[1], p[2]) == voxel.Air
	}

	var quads []Quad
	for s := 0; s < nd; s++ {
		var prev map[int]int
		for j := 0; j < nv; j++ {
			cur := map[int]int{}
			for i := 0; i < nu; {
				t := at(s, i, j)
				if !t.Solid() || !exposed(s, i, j) {
					i++
					continue
				}
				start := i
				for i < nu && at(s, i, j) == t && exposed(s, i, j) {
					i++
				}
				w := i - start
				if qi, ok := prev[start]; ok && quads[qi].W == w && quads[qi].Type == t {
					quads[qi].H++
					cur[start] = qi
					continue
				}
				var o [3]int
				o[f.Axis], o[u], o[v] = s, start, j
				if f.Sign > 0 {
					o[f.Axis]++
				}
				quads = append(quads, Quad{
					Origin: mgl32.Vec3{float32(o[0]), float32(o[1]), float32(o[2])},
					W:      w,
					H:      1,
					Type:   t,
				})
				cur[start] = len(quads) - 1
			}
			prev = cur
		}
	}
	return quads
}

// Corners returns v0 (origin), v1 (+u*W), v2 (+v*H), v3 (+u*W+v*H).
func (q Quad) Corners(f Face) [4]mgl32.Vec3 {
	u, v := f.InPlane()
	var du, dv mgl32.Vec3
	du[u] = float32(q.W)
	dv[v] = float32(q.H)
	return [4]mgl32.Vec3{q.Origin, q.Origin.Add(du), q.Origin.Add(dv), q.Origin.Add(du).Add(dv)}
}

var (
	windingPositive = [6]int{0, 1, 2, 2, 1, 3}
	windingNegative = [6]int{0, 2, 1, 1, 2, 3}
)

func appendQuad(buf []float32, q Quad, f Face) []float32 {
	c, ok := voxel.Color(q.Type)
	if !ok {
		return buf
	}
	corners := q.Corners(f)
	n := f.Normal()
	order := windingPositive
	if f.Sign < 0 {
		order = windingNegative
	}
	for _, k := range order {
		v := corners[k]
		buf = append(buf,
			v[0], v[1], v[2],
			n[0], n[1], n[2],
			c[0], c[1], c[2], c[3])
	}
	return buf
}
