package voxel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Type is a one-byte voxel code.
type Type uint8

const (
	Air Type = iota
	Bedrock
	Stone
	Unknown
)

func (t Type) String() string {
	switch t {
	case Air:
		return "AIR"
	case Bedrock:
		return "BEDROCK"
	case Stone:
		return "STONE"
	case Unknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("VOXEL(%d)", uint8(t))
	}
}

// Solid reports whether t is a renderable voxel. Air and Unknown never render.
func (t Type) Solid() bool {
	return t != Air && t != Unknown
}

// Dims are chunk dimensions in voxels.
type Dims struct {
	X, Y, Z int
}

// DefaultDims matches the 16x256x16 column chunks used everywhere by default.
var DefaultDims = Dims{X: 16, Y: 256, Z: 16}

func (d Dims) Volume() int { return d.X * d.Y * d.Z }

// Axis returns the extent along axis 0 (X), 1 (Y) or 2 (Z).
func (d Dims) Axis(a int) int {
	switch a {
	case 0:
		return d.X
	case 1:
		return d.Y
	default:
		return d.Z
	}
}

func (d Dims) Valid() bool {
	return d.X > 0 && d.Y > 0 && d.Z > 0
}

// Index maps (x,y,z) to x*(Y*Z) + y*Z + z. Coordinates outside the grid are rejected.
func (d Dims) Index(x, y, z int) (int, bool) {
	if x < 0 || y < 0 || z < 0 || x >= d.X || y >= d.Y || z >= d.Z {
		return 0, false
	}
	return x*d.Y*d.Z + y*d.Z + z, true
}

// Coord is the inverse of Index.
func (d Dims) Coord(i int) (x, y, z int) {
	yz := d.Y * d.Z
	x = i / yz
	r := i % yz
	return x, r / d.Z, r % d.Z
}

// Grid is a fixed-size 3D array of voxel codes, all Air on creation.
type Grid struct {
	dims  Dims
	cells []Type
}

func NewGrid(d Dims) *Grid {
	return &Grid{dims: d, cells: make([]Type, d.Volume())}
}

func (g *Grid) Dims() Dims { return g.dims }

// Get returns Unknown for out-of-range coordinates.
func (g *Grid) Get(x, y, z int) Type {
	i, ok := g.dims.Index(x, y, z)
	if !ok {
		return Unknown
	}
	return g.cells[i]
}

// Set is a no-op for out-of-range coordinates and reports whether it wrote.
func (g *Grid) Set(x, y, z int, t Type) bool {
	i, ok := g.dims.Index(x, y, z)
	if !ok {
		return false
	}
	g.cells[i] = t
	return true
}

// Fill sets every cell to t.
func (g *Grid) Fill(t Type) {
	for i := range g.cells {
		g.cells[i] = t
	}
}

// Cells exposes the backing slice in index order. Callers must not resize it.
func (g *Grid) Cells() []Type { return g.cells }

// CopyFrom replaces the contents with src, which must have the grid's volume.
func (g *Grid) CopyFrom(src []Type) error {
	if len(src) != len(g.cells) {
		return fmt.Errorf("voxel grid size mismatch: got %d want %d", len(src), len(g.cells))
	}
	copy(g.cells, src)
	return nil
}

// Count returns how many cells hold t.
func (g *Grid) Count(t Type) int {
	n := 0
	for _, c := range g.cells {
		if c == t {
			n++
		}
	}
	return n
}

// Digest is the hex sha256 of the voxel codes in index order.
func (g *Grid) Digest() string {
	buf := make([]byte, len(g.cells))
	for i, v := range g.cells {
		buf[i] = byte(v)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
