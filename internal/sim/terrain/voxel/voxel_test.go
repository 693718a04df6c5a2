package voxel

import "testing"

func TestGrid_SetGetRoundTrip(t *testing.T) {
	d := Dims{X: 4, Y: 8, Z: 3}
	g := NewGrid(d)
	types := []Type{Air, Bedrock, Stone, Unknown}
	for x := 0; x < d.X; x++ {
		for y := 0; y < d.Y; y++ {
			for z := 0; z < d.Z; z++ {
				want := types[(x+y+z)%len(types)]
				if !g.Set(x, y, z, want) {
					t.Fatalf("Set(%d,%d,%d) rejected in-bounds coordinate", x, y, z)
				}
				if got := g.Get(x, y, z); got != want {
					t.Fatalf("Get(%d,%d,%d)=%v want %v", x, y, z, got, want)
				}
			}
		}
	}
}

func TestGrid_OutOfBounds(t *testing.T) {
	d := Dims{X: 2, Y: 2, Z: 2}
	g := NewGrid(d)
	g.Fill(Stone)
	oob := [][3]int{{2, 0, 0}, {0, 2, 0}, {0, 0, 2}, {-1, 0, 0}, {0, -1, 0}, {0, 0, -1}}
	for _, c := range oob {
		if got := g.Get(c[0], c[1], c[2]); got != Unknown {
			t.Fatalf("Get(%v)=%v want UNKNOWN", c, got)
		}
		if g.Set(c[0], c[1], c[2], Air) {
			t.Fatalf("Set(%v) should be rejected", c)
		}
	}
	if n := g.Count(Stone); n != d.Volume() {
		t.Fatalf("out-of-bounds Set modified grid: stone=%d want %d", n, d.Volume())
	}
}

func TestDims_IndexFormula(t *testing.T) {
	d := DefaultDims
	i, ok := d.Index(3, 5, 7)
	if !ok {
		t.Fatalf("expected in-bounds")
	}
	if want := 3*256*16 + 5*16 + 7; i != want {
		t.Fatalf("index=%d want %d", i, want)
	}
	x, y, z := d.Coord(i)
	if x != 3 || y != 5 || z != 7 {
		t.Fatalf("Coord(%d)=(%d,%d,%d)", i, x, y, z)
	}
}

func TestNewGrid_AllAir(t *testing.T) {
	g := NewGrid(Dims{X: 3, Y: 3, Z: 3})
	if g.Count(Air) != 27 {
		t.Fatalf("new grid should be all air")
	}
}

func TestPalette(t *testing.T) {
	if _, ok := Color(Stone); !ok {
		t.Fatalf("stone missing from palette")
	}
	if _, ok := Color(Air); ok {
		t.Fatalf("air must not have a color")
	}
	if Unknown.Solid() || Air.Solid() || !Bedrock.Solid() {
		t.Fatalf("Solid() mismatch")
	}
}
