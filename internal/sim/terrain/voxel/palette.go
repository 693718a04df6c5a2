package voxel

import "github.com/go-gl/mathgl/mgl32"

// Palette maps renderable voxel types to RGBA colors. Alpha stays at full opacity.
var Palette = map[Type]mgl32.Vec4{
	Bedrock: {0.1, 0.1, 0.1, 1.0},
	Stone:   {0.7, 0.7, 0.7, 1.0},
}

// Color looks t up in Palette.
func Color(t Type) (mgl32.Vec4, bool) {
	c, ok := Palette[t]
	return c, ok
}
