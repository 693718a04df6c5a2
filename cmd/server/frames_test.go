package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voxelterrain.dev/internal/sim/terrain"
	"voxelterrain.dev/internal/sim/terrain/gen"
	"voxelterrain.dev/internal/sim/terrain/voxel"
)

func newTestTerrain(t *testing.T, radius int) *terrain.Terrain {
	t.Helper()
	p := gen.DefaultParams(voxel.Dims{X: 4, Y: 16, Z: 4})
	p.BaseHeight = 4
	p.Amplitude = 4
	p.Scale = 8
	p.BedrockLayers = 1
	tr, err := terrain.New(terrain.Config{Gen: p, Seed: 3, Radius: radius}, terrain.Deps{})
	if err != nil {
		t.Fatalf("terrain.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tr.Close(ctx)
	})
	return tr
}

func startLoop(t *testing.T, tr *terrain.Terrain, walk float64) (*frameLoop, *statsSink) {
	t.Helper()
	sink := &statsSink{}
	loop := newFrameLoop(tr, sink, 200, walk, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop, sink
}

func waitAllUpdated(t *testing.T, loop *frameLoop) terrain.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var st terrain.Status
		if err := loop.Do(ctx, func(tr *terrain.Terrain) { st = tr.Status() }); err != nil {
			t.Fatalf("Do: %v", err)
		}
		if st.Live > 0 && st.Updated == st.Live {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFrameLoop_CommitsLiveSet(t *testing.T) {
	tr := newTestTerrain(t, 2)
	loop, sink := startLoop(t, tr, 0)

	st := waitAllUpdated(t, loop)
	if st.Live != 13 {
		t.Fatalf("live=%d want 13", st.Live)
	}
	if got := sink.uploads.Load(); got != 13 {
		t.Fatalf("uploads=%d want 13", got)
	}
	if sink.triangles.Load() == 0 || sink.bytes.Load() == 0 {
		t.Fatalf("sink saw no geometry: tris=%d bytes=%d", sink.triangles.Load(), sink.bytes.Load())
	}
	if loop.frames.Load() == 0 {
		t.Fatalf("no frames counted")
	}
}

func TestFrameLoop_WalkingViewerMovesLiveSet(t *testing.T) {
	tr := newTestTerrain(t, 1)
	// 50 chunks per second at 200 fps crosses a chunk every few frames.
	loop, _ := startLoop(t, tr, 50)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var st terrain.Status
		if err := loop.Do(ctx, func(tr *terrain.Terrain) { st = tr.Status() }); err != nil {
			t.Fatalf("Do: %v", err)
		}
		if st.Viewer.CX >= 3 {
			if st.Viewer.CZ != 0 {
				t.Fatalf("viewer drifted in z: %v", st.Viewer)
			}
			if st.Cached <= st.Live {
				t.Fatalf("cached=%d should exceed live=%d after moving", st.Cached, st.Live)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFrameLoop_DoWithoutRunTimesOut(t *testing.T) {
	tr := newTestTerrain(t, 0)
	loop := newFrameLoop(tr, &statsSink{}, 30, 0, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ran := 0
	if err := loop.Do(ctx, func(*terrain.Terrain) { ran++ }); err == nil {
		t.Fatalf("Do without a running loop should time out")
	}
	if ran != 0 {
		t.Fatalf("request ran without a loop")
	}
}

func TestAdmin_PickAndSave(t *testing.T) {
	tr := newTestTerrain(t, 1)
	loop, _ := startLoop(t, tr, 0)
	waitAllUpdated(t, loop)

	mux := http.NewServeMux()
	registerAdmin(mux, loop)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/pick?ox=1.5&oy=15.5&oz=1.5&dx=0&dy=-1&dz=0", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"hit":true`) {
		t.Fatalf("pick: code=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/v1/pick?ox=1&oy=1&oz=1&dx=0&dy=-1&dz=0", nil)
	req.RemoteAddr = "10.0.0.8:5555"
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-loopback pick: code=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"Live":5`) {
		t.Fatalf("status: code=%d body=%s", rec.Code, rec.Body.String())
	}

	// No store configured: SaveAll reports zero without error.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/v1/save", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: code=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/v1/regenerate?cx=40&cz=40", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("regenerate unknown: code=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestWriteMetrics(t *testing.T) {
	sink := &statsSink{}
	sink.uploads.Store(4)
	rec := httptest.NewRecorder()
	writeMetrics(rec, terrain.Status{Live: 5, Updated: 4, Generated: 1, Cached: 9}, sink, 12)
	body := rec.Body.String()
	for _, want := range []string{
		`terrain_chunks{state="updated"} 4`,
		`terrain_chunks{state="generated"} 1`,
		"terrain_cached_chunks 9",
		"terrain_mesh_uploads_total 4",
		"terrain_frames_total 12",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.1.2.3:80":  false,
		"garbage":      false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}
