package gen

import (
	"fmt"

	"voxelterrain.dev/internal/sim/terrain/noise"
	"voxelterrain.dev/internal/sim/terrain/voxel"
)

// Caves configures the optional subtractive 3D-noise stage. There is no default
// threshold; enabling caves requires one.
type Caves struct {
	Enabled   bool
	Threshold float64
	Scale     float64
}

type Params struct {
	Dims voxel.Dims

	BaseHeight    int     // stone band ends (exclusive) and heightmap starts here
	Amplitude     int     // heightmap spans [0, Amplitude] above BaseHeight
	Scale         float64 // world voxels per noise unit on the heightmap
	BedrockLayers int

	Caves Caves
}

// DefaultParams returns the layout of a 16x256x16 chunk with a 16-voxel heightmap.
func DefaultParams(d voxel.Dims) Params {
	return Params{
		Dims:          d,
		BaseHeight:    d.Y / 4,
		Amplitude:     16,
		Scale:         32,
		BedrockLayers: 2,
	}
}

func (p Params) Validate() error {
	if !p.Dims.Valid() {
		return fmt.Errorf("invalid chunk dims %+v", p.Dims)
	}
	if p.BedrockLayers < 0 || p.BedrockLayers > p.Dims.Y {
		return fmt.Errorf("bedrock layers %d outside [0,%d]", p.BedrockLayers, p.Dims.Y)
	}
	if p.BaseHeight < p.BedrockLayers {
		return fmt.Errorf("base height %d below bedrock layers %d", p.BaseHeight, p.BedrockLayers)
	}
	if p.Amplitude < 0 || p.BaseHeight+p.Amplitude > p.Dims.Y {
		return fmt.Errorf("base height %d + amplitude %d exceeds chunk height %d", p.BaseHeight, p.Amplitude, p.Dims.Y)
	}
	if p.Scale <= 0 {
		return fmt.Errorf("heightmap scale must be > 0, got %v", p.Scale)
	}
	if p.Caves.Enabled && p.Caves.Scale <= 0 {
		return fmt.Errorf("cave scale must be > 0 when caves are enabled")
	}
	return nil
}

// Generator fills voxel grids from a noise sampler. It holds no mutable state and
// may be shared by concurrent workers.
type Generator struct {
	P     Params
	Noise noise.Sampler
}

func New(p Params, n noise.Sampler) (*Generator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("nil noise sampler")
	}
	return &Generator{P: p, Noise: n}, nil
}

// ColumnHeight is the heightmap value for world column (wx, wz), in [0, Amplitude].
// It depends only on world coordinates, so neighboring chunks agree on shared edges.
func (g *Generator) ColumnHeight(wx, wz int) float64 {
	n := g.Noise.Noise(float64(wx)/g.P.Scale, 0, float64(wz)/g.P.Scale)
	return (n + 1) * float64(g.P.Amplitude) / 2
}

// Generate overwrites grid with the terrain of chunk (cx, cz). Stages run in order and
// later stages override earlier ones.
func (g *Generator) Generate(grid *voxel.Grid, cx, cz int) {
	d := g.P.Dims
	ox := cx * d.X
	oz := cz * d.Z

	grid.Fill(voxel.Air)

	for x := 0; x < d.X; x++ {
		for y := g.P.BedrockLayers; y < g.P.BaseHeight; y++ {
			for z := 0; z < d.Z; z++ {
				grid.Set(x, y, z, voxel.Stone)
			}
		}
	}

	for x := 0; x < d.X; x++ {
		for z := 0; z < d.Z; z++ {
			h := g.ColumnHeight(ox+x, oz+z)
			for y := g.P.BaseHeight; y < g.P.BaseHeight+g.P.Amplitude; y++ {
				if h >= float64(y-g.P.BaseHeight) {
					grid.Set(x, y, z, voxel.Stone)
				}
			}
		}
	}

	if g.P.Caves.Enabled {
		g.carveCaves(grid, ox, oz)
	}

	for x := 0; x < d.X; x++ {
		for y := 0; y < g.P.BedrockLayers; y++ {
			for z := 0; z < d.Z; z++ {
				grid.Set(x, y, z, voxel.Bedrock)
			}
		}
	}
}

func (g *Generator) carveCaves(grid *voxel.Grid, ox, oz int) {
	d := g.P.Dims
	s := g.P.Caves.Scale
	for x := 0; x < d.X; x++ {
		for y := g.P.BedrockLayers; y < d.Y; y++ {
			for z := 0; z < d.Z; z++ {
				n := g.Noise.Noise(float64(ox+x)*s, float64(y)*s, float64(oz+z)*s)
				if n > g.P.Caves.Threshold {
					grid.Set(x, y, z, voxel.Air)
				}
			}
		}
	}
}
