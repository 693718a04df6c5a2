package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"voxelterrain.dev/internal/persistence/indexdb"
	"voxelterrain.dev/internal/sim/terrain"
	"voxelterrain.dev/internal/sim/terrain/chunk"
	"voxelterrain.dev/internal/sim/terrain/voxel"
	"voxelterrain.dev/internal/sim/tuning"
)

func TestSummarize(t *testing.T) {
	g := voxel.NewGrid(voxel.Dims{X: 2, Y: 8, Z: 1})
	g.Set(0, 0, 0, voxel.Bedrock)
	g.Set(0, 1, 0, voxel.Stone)
	g.Set(0, 5, 0, voxel.Stone)
	g.Set(1, 0, 0, voxel.Bedrock)

	s := summarize(chunk.Key{CX: 2, CZ: -3}, g)
	if s.CX != 2 || s.CZ != -3 {
		t.Fatalf("key=%d,%d", s.CX, s.CZ)
	}
	if s.MinHeight != 0 || s.MaxHeight != 5 {
		t.Fatalf("surface min=%d max=%d want 0,5", s.MinHeight, s.MaxHeight)
	}
	if s.Counts["AIR"] != 12 || s.Counts["STONE"] != 2 || s.Counts["BEDROCK"] != 2 {
		t.Fatalf("counts=%v", s.Counts)
	}
	if s.Digest != g.Digest() {
		t.Fatalf("digest mismatch")
	}
}

func TestRunQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terrain.sqlite")
	idx, err := indexdb.OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.RecordRun(ctx, "r1", tuning.Defaults()); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	idx.RecordChunk(terrain.ChunkRecord{RunID: "r1", CX: 1, CZ: 2, Source: terrain.SourceGenerated, Digest: "d1", AtUnixMs: 10})
	idx.RecordChunk(terrain.ChunkRecord{RunID: "r2", CX: 5, CZ: 5, Source: terrain.SourceGenerated, Digest: "d2", AtUnixMs: 20})
	idx.RecordBurst(terrain.BurstRecord{RunID: "r1", BurstID: "b1", Enqueued: 3, Ran: 3, AtUnixMs: 30})
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var got []any
	collect := func(v any) { got = append(got, v) }

	if err := runQuery(db, "runs", "", 10, collect); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(got) != 1 || got[0].(runRow).RunID != "r1" {
		t.Fatalf("runs=%+v", got)
	}

	got = nil
	if err := runQuery(db, "chunks", "", 10, collect); err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(got) != 2 || got[0].(chunkRow).Digest != "d2" {
		t.Fatalf("chunks newest first: %+v", got)
	}

	got = nil
	if err := runQuery(db, "chunks", "r1", 10, collect); err != nil {
		t.Fatalf("chunks r1: %v", err)
	}
	if len(got) != 1 || got[0].(chunkRow).CX != 1 {
		t.Fatalf("chunks r1=%+v", got)
	}

	got = nil
	if err := runQuery(db, "bursts", "r1", 10, collect); err != nil {
		t.Fatalf("bursts: %v", err)
	}
	if len(got) != 1 || got[0].(burstRow).Enqueued != 3 {
		t.Fatalf("bursts=%+v", got)
	}

	if err := runQuery(db, "agents", "", 10, collect); err == nil {
		t.Fatalf("unknown query should fail")
	}
}

func TestParseVec3(t *testing.T) {
	v, err := parseVec3(" 1.5, -2 ,3")
	if err != nil || v != [3]float64{1.5, -2, 3} {
		t.Fatalf("parseVec3=%v err=%v", v, err)
	}
	if _, err := parseVec3("1,2"); err == nil {
		t.Fatalf("short vector accepted")
	}
}
