// Package noise implements seeded 3D gradient (Perlin) noise.
package noise

import (
	"math"

	"voxelterrain.dev/internal/sim/mathx"
)

// reference is Ken Perlin's permutation, used unchanged for seed 0.
var reference = [256]uint8{
	151, 160, 137, 91, 90, 15, 131, 13, 201, 95, 96, 53, 194, 233, 7, 225,
	140, 36, 103, 30, 69, 142, 8, 99, 37, 240, 21, 10, 23, 190, 6, 148,
	247, 120, 234, 75, 0, 26, 197, 62, 94, 252, 219, 203, 117, 35, 11, 32,
	57, 177, 33, 88, 237, 149, 56, 87, 174, 20, 125, 136, 171, 168, 68, 175,
	74, 165, 71, 134, 139, 48, 27, 166, 77, 146, 158, 231, 83, 111, 229, 122,
	60, 211, 133, 230, 220, 105, 92, 41, 55, 46, 245, 40, 244, 102, 143, 54,
	65, 25, 63, 161, 1, 216, 80, 73, 209, 76, 132, 187, 208, 89, 18, 169,
	200, 196, 135, 130, 116, 188, 159, 86, 164, 100, 109, 198, 173, 186, 3, 64,
	52, 217, 226, 250, 124, 123, 5, 202, 38, 147, 118, 126, 255, 82, 85, 212,
	207, 206, 59, 227, 47, 16, 58, 17, 182, 189, 28, 42, 223, 183, 170, 213,
	119, 248, 152, 2, 44, 154, 163, 70, 221, 153, 101, 155, 167, 43, 172, 9,
	129, 22, 39, 253, 19, 98, 108, 110, 79, 113, 224, 232, 178, 185, 112, 104,
	218, 246, 97, 228, 251, 34, 242, 193, 238, 210, 144, 12, 191, 179, 162, 241,
	81, 51, 145, 235, 249, 14, 239, 107, 49, 192, 214, 31, 181, 199, 106, 157,
	184, 84, 204, 176, 115, 121, 50, 45, 127, 4, 150, 254, 138, 236, 205, 93,
	222, 114, 67, 29, 24, 72, 243, 141, 128, 195, 78, 66, 215, 61, 156, 180,
}

// Sampler is anything that can be sampled like a Field.
type Sampler interface {
	Noise(x, y, z float64) float64
}

// Field is immutable after New and safe for concurrent use.
type Field struct {
	seed int64
	perm [512]uint8
}

// New builds a field. Seed 0 keeps the reference permutation; other seeds shuffle it.
func New(seed int64) *Field {
	f := &Field{seed: seed}
	p := reference
	if seed != 0 {
		for i := 255; i > 0; i-- {
			j := int(mathx.Hash2(seed, i, 0) % uint64(i+1))
			p[i], p[j] = p[j], p[i]
		}
	}
	// Doubled so corner hashing never wraps.
	for i := 0; i < 512; i++ {
		f.perm[i] = p[i&255]
	}
	return f
}

func (f *Field) Seed() int64 { return f.seed }

// Noise returns a value in [-1, 1].
func (f *Field) Noise(x, y, z float64) float64 {
	fx, fy, fz := math.Floor(x), math.Floor(y), math.Floor(z)
	X := int(int64(fx) & 255)
	Y := int(int64(fy) & 255)
	Z := int(int64(fz) & 255)

	x -= fx
	y -= fy
	z -= fz

	u := fade(x)
	v := fade(y)
	w := fade(z)

	p := &f.perm
	A := int(p[X]) + Y
	AA := int(p[A]) + Z
	AB := int(p[A+1]) + Z
	B := int(p[X+1]) + Y
	BA := int(p[B]) + Z
	BB := int(p[B+1]) + Z

	x11 := lerp(u, grad(p[AA], x, y, z), grad(p[BA], x-1, y, z))
	x12 := lerp(u, grad(p[AB], x, y-1, z), grad(p[BB], x-1, y-1, z))
	x21 := lerp(u, grad(p[AA+1], x, y, z-1), grad(p[BA+1], x-1, y, z-1))
	x22 := lerp(u, grad(p[AB+1], x, y-1, z-1), grad(p[BB+1], x-1, y-1, z-1))

	y1 := lerp(v, x11, x12)
	y2 := lerp(v, x21, x22)

	return mathx.ClampFloat(lerp(w, y1, y2), -1, 1)
}

// fade is 6t^5 - 15t^4 + 10t^3.
func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(t, a, b float64) float64 {
	return a + t*(b-a)
}

// grad picks one of 12 edge gradients from the low 4 bits of hash.
func grad(hash uint8, x, y, z float64) float64 {
	h := hash & 15
	u := y
	if h < 8 {
		u = x
	}
	var v float64
	switch {
	case h < 4:
		v = y
	case h == 12 || h == 14:
		v = x
	default:
		v = z
	}
	if h&1 != 0 {
		u = -u
	}
	if h&2 != 0 {
		v = -v
	}
	return u + v
}
