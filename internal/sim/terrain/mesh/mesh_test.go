package mesh

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.dev/internal/sim/terrain/voxel"
)

func vertexAt(buf []float32, i int) (pos, normal mgl32.Vec3) {
	off := i * FloatsPerVertex
	pos = mgl32.Vec3{buf[off], buf[off+1], buf[off+2]}
	normal = mgl32.Vec3{buf[off+3], buf[off+4], buf[off+5]}
	return pos, normal
}

func TestBuild_IsolatedVoxel(t *testing.T) {
	g := voxel.NewGrid(voxel.Dims{X: 3, Y: 3, Z: 3})
	g.Set(1, 1, 1, voxel.Stone)

	b := (&Builder{}).Build(g)
	if b.Triangles != 12 {
		t.Fatalf("triangles=%d want 12", b.Triangles)
	}
	if got, want := b.VertexCount(), 12*3; got != want {
		t.Fatalf("vertices=%d want %d", got, want)
	}
	if b.ByteSize() != len(b.Vertices)*4 {
		t.Fatalf("byte size mismatch")
	}

	seen := map[mgl32.Vec3]int{}
	for tri := 0; tri < b.Triangles; tri++ {
		p0, n := vertexAt(b.Vertices, tri*3)
		p1, n1 := vertexAt(b.Vertices, tri*3+1)
		p2, n2 := vertexAt(b.Vertices, tri*3+2)
		if n != n1 || n != n2 {
			t.Fatalf("triangle %d has mixed normals", tri)
		}
		if l := n.Len(); l < 0.999 || l > 1.001 {
			t.Fatalf("triangle %d normal %v not unit", tri, n)
		}
		geo := p1.Sub(p0).Cross(p2.Sub(p0)).Normalize()
		if !geo.ApproxEqual(n) {
			t.Fatalf("triangle %d winding gives %v, declared normal %v", tri, geo, n)
		}
		seen[n]++
		for _, p := range []mgl32.Vec3{p0, p1, p2} {
			for a := 0; a < 3; a++ {
				if p[a] != 1 && p[a] != 2 {
					t.Fatalf("vertex %v outside unit cell [1,2]^3", p)
				}
			}
		}
	}
	if len(seen) != 6 {
		t.Fatalf("expected 6 distinct normals, got %d", len(seen))
	}
	for n, c := range seen {
		if c != 2 {
			t.Fatalf("normal %v has %d triangles, want 2", n, c)
		}
	}
}

func TestCull_EnclosedVoxelDiscarded(t *testing.T) {
	g := voxel.NewGrid(voxel.Dims{X: 5, Y: 5, Z: 5})
	for x := 1; x <= 3; x++ {
		for y := 1; y <= 3; y++ {
			for z := 1; z <= 3; z++ {
				g.Set(x, y, z, voxel.Stone)
			}
		}
	}
	culled := Cull(g, nil)
	if culled.Get(2, 2, 2) != voxel.Air {
		t.Fatalf("enclosed voxel survived culling")
	}
	if culled.Count(voxel.Stone) != 26 {
		t.Fatalf("surface voxels=%d want 26", culled.Count(voxel.Stone))
	}

	b := (&Builder{}).Build(g)
	// One merged 3x3 quad per face.
	if b.Triangles != 12 {
		t.Fatalf("triangles=%d want 12", b.Triangles)
	}
	for i := 0; i < b.VertexCount(); i++ {
		p, _ := vertexAt(b.Vertices, i)
		onSurface := false
		for a := 0; a < 3; a++ {
			if p[a] == 1 || p[a] == 4 {
				onSurface = true
			}
		}
		if !onSurface {
			t.Fatalf("vertex %v lies inside the block", p)
		}
	}
}

func TestBuild_SolidChunkOnlyBoundaryFaces(t *testing.T) {
	d := voxel.Dims{X: 4, Y: 6, Z: 4}
	g := voxel.NewGrid(d)
	g.Fill(voxel.Stone)
	b := (&Builder{}).Build(g)
	if b.Triangles != 12 {
		t.Fatalf("triangles=%d want 12 (six merged faces)", b.Triangles)
	}
}

func TestSweep_MergesRunsAndRows(t *testing.T) {
	d := voxel.Dims{X: 4, Y: 1, Z: 1}
	g := voxel.NewGrid(d)
	for x := 0; x < 4; x++ {
		g.Set(x, 0, 0, voxel.Stone)
	}
	g.Set(2, 0, 0, voxel.Bedrock)
	culled := Cull(g, nil)

	// +Y: u=Z, v=X. Each X row has width 1 along Z; equal rows merge in height.
	up := Sweep(g, culled, Face{Axis: 1, Sign: +1})
	if len(up) != 3 {
		t.Fatalf("+Y quads=%d want 3 (stone x0-1, bedrock x2, stone x3)", len(up))
	}
	if up[0].H != 2 || up[0].W != 1 || up[0].Type != voxel.Stone {
		t.Fatalf("first +Y quad=%+v", up[0])
	}
	if up[0].Origin != (mgl32.Vec3{0, 1, 0}) {
		t.Fatalf("+Y origin=%v want on top plane y=1", up[0].Origin)
	}

	// +Z: u=X, v=Y. One row: runs split by type.
	front := Sweep(g, culled, Face{Axis: 2, Sign: +1})
	if len(front) != 3 || front[0].W != 2 || front[1].W != 1 || front[2].W != 1 {
		t.Fatalf("+Z quads=%+v", front)
	}

	// +X only the last voxel is exposed; -X only the first.
	if q := Sweep(g, culled, Face{Axis: 0, Sign: +1}); len(q) != 1 || q[0].Origin[0] != 4 {
		t.Fatalf("+X quads=%+v", q)
	}
	if q := Sweep(g, culled, Face{Axis: 0, Sign: -1}); len(q) != 1 || q[0].Origin[0] != 0 {
		t.Fatalf("-X quads=%+v", q)
	}
}

func TestFace_InPlaneRightHanded(t *testing.T) {
	for _, f := range Faces {
		u, v := f.InPlane()
		var eu, ev mgl32.Vec3
		eu[u], ev[v] = 1, 1
		axis := eu.Cross(ev)
		var want mgl32.Vec3
		want[f.Axis] = 1
		if axis != want {
			t.Fatalf("face %+v: u x v = %v", f, axis)
		}
	}
}

func TestBuild_EmptyGrid(t *testing.T) {
	b := (&Builder{}).Build(voxel.NewGrid(voxel.Dims{X: 2, Y: 2, Z: 2}))
	if !b.Empty() || b.Triangles != 0 || b.VertexCount() != 0 {
		t.Fatalf("empty grid should produce empty mesh, got %d triangles", b.Triangles)
	}
}

func TestBuild_MissingColorLoggedAndSkipped(t *testing.T) {
	var out bytes.Buffer
	g := voxel.NewGrid(voxel.Dims{X: 3, Y: 3, Z: 3})
	g.Set(0, 0, 0, voxel.Type(9))
	g.Set(2, 2, 2, voxel.Stone)

	b := (&Builder{Log: log.New(&out, "", 0)}).Build(g)
	if b.Triangles != 12 {
		t.Fatalf("triangles=%d want 12 (only the stone voxel)", b.Triangles)
	}
	if !strings.Contains(out.String(), "VOXEL(9) missing from palette") {
		t.Fatalf("expected missing palette warning, got %q", out.String())
	}
}

func TestBuild_PointsMode(t *testing.T) {
	g := voxel.NewGrid(voxel.Dims{X: 3, Y: 3, Z: 3})
	g.Set(1, 1, 1, voxel.Bedrock)
	g.Set(0, 0, 0, voxel.Stone)
	b := (&Builder{Mode: Points}).Build(g)
	if b.VertexCount() != 2 || b.Triangles != 0 {
		t.Fatalf("points: vertices=%d triangles=%d", b.VertexCount(), b.Triangles)
	}
	d := b.Desc(mgl32.Vec3{16, 0, 32})
	if d.VertexCount != 2 || d.ByteSize != 2*PointFloatsPerVertex*4 || d.Origin[2] != 32 {
		t.Fatalf("desc=%+v", d)
	}
}

func TestParseMode(t *testing.T) {
	if m, ok := ParseMode("points"); !ok || m != Points {
		t.Fatalf("points not parsed")
	}
	if m, ok := ParseMode(""); !ok || m != Greedy {
		t.Fatalf("empty should be greedy")
	}
	if _, ok := ParseMode("marching"); ok {
		t.Fatalf("unknown mode accepted")
	}
}
