package main

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.dev/internal/sim/terrain"
	"voxelterrain.dev/internal/sim/terrain/chunk"
	"voxelterrain.dev/internal/sim/terrain/mesh"
)

// statsSink stands in for the GPU: it counts what would have been uploaded.
type statsSink struct {
	uploads   atomic.Uint64
	bytes     atomic.Uint64
	triangles atomic.Uint64
}

func (s *statsSink) Upload(_ chunk.Key, d mesh.Desc) error {
	s.uploads.Add(1)
	s.bytes.Add(uint64(d.ByteSize))
	s.triangles.Add(uint64(d.Triangles))
	return nil
}

// frameLoop drives the terrain the way a render loop would: one scheduler pass and
// one commit pass per frame, all on a single goroutine. Other goroutines reach the
// terrain only through Do.
type frameLoop struct {
	t    *terrain.Terrain
	log  *log.Logger
	sink terrain.MeshSink

	frame time.Duration
	walk  float64 // chunks per second along +X

	reqs   chan func(*terrain.Terrain)
	pos    mgl32.Vec3
	frames atomic.Uint64
}

func newFrameLoop(t *terrain.Terrain, sink terrain.MeshSink, fps int, walk float64, logger *log.Logger) *frameLoop {
	if fps <= 0 {
		fps = 30
	}
	d := t.Dims()
	return &frameLoop{
		t:     t,
		log:   logger,
		sink:  sink,
		frame: time.Second / time.Duration(fps),
		walk:  walk,
		reqs:  make(chan func(*terrain.Terrain), 16),
		pos:   mgl32.Vec3{float32(d.X) / 2, float32(d.Y), float32(d.Z) / 2},
	}
}

func (f *frameLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.frame)
	defer ticker.Stop()
	f.step(0)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-f.reqs:
			fn(f.t)
		case now := <-ticker.C:
			f.step(now.Sub(last).Seconds())
			last = now
		}
	}
}

func (f *frameLoop) step(dt float64) {
	f.pos[0] += float32(f.walk * dt * float64(f.t.Dims().X))
	if _, err := f.t.Update(f.t.ViewerChunk(f.pos)); err != nil {
		f.log.Printf("frame: update: %v", err)
		return
	}
	f.t.Commit(f.sink)
	f.frames.Add(1)
}

// Do runs fn on the frame goroutine between frames and waits for it.
func (f *frameLoop) Do(ctx context.Context, fn func(*terrain.Terrain)) error {
	done := make(chan struct{})
	select {
	case f.reqs <- func(t *terrain.Terrain) { fn(t); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
