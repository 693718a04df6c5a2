package mathx

import "testing"

func TestFloorDivMod(t *testing.T) {
	cases := []struct{ a, b, q, m int }{
		{0, 16, 0, 0},
		{15, 16, 0, 15},
		{16, 16, 1, 0},
		{-1, 16, -1, 15},
		{-16, 16, -1, 0},
		{-17, 16, -2, 15},
	}
	for _, c := range cases {
		if q := FloorDiv(c.a, c.b); q != c.q {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", c.a, c.b, q, c.q)
		}
		if m := Mod(c.a, c.b); m != c.m {
			t.Fatalf("Mod(%d,%d)=%d want %d", c.a, c.b, m, c.m)
		}
		cx, lx := WorldToChunk(c.a, c.b)
		if cx != c.q || lx != c.m {
			t.Fatalf("WorldToChunk(%d,%d)=(%d,%d)", c.a, c.b, cx, lx)
		}
	}
}

func TestHash2Stable(t *testing.T) {
	if Hash2(7, 1, 2) != Hash2(7, 1, 2) {
		t.Fatalf("hash must be deterministic")
	}
	if Hash2(7, 1, 2) == Hash2(8, 1, 2) {
		t.Fatalf("seed should change hash")
	}
}
