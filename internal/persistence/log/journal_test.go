package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voxelterrain.dev/internal/sim/terrain"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	var out []Entry
	if err := ReadJournal(path, func(e Entry) error {
		out = append(out, e)
		return nil
	}); err != nil {
		t.Fatalf("ReadJournal %s: %v", path, err)
	}
	return out
}

func TestJournal_WritesChunkAndBurstLines(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, nil)
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	j.w.now = func() time.Time { return fixed }

	j.RecordChunk(terrain.ChunkRecord{RunID: "r1", CX: 1, CZ: -2, Source: terrain.SourceGenerated, Triangles: 12})
	j.RecordBurst(terrain.BurstRecord{RunID: "r1", BurstID: "b1", Enqueued: 5, Ran: 5})
	if j.Lines() != 2 {
		t.Fatalf("Lines=%d want 2", j.Lines())
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readEntries(t, filepath.Join(dir, "journal-2026-03-04-05.jsonl.zst"))
	if len(entries) != 2 {
		t.Fatalf("got %d entries want 2", len(entries))
	}
	if entries[0].Type != "chunk" || entries[0].Chunk == nil || entries[0].Chunk.CZ != -2 || entries[0].Burst != nil {
		t.Fatalf("chunk entry %+v", entries[0])
	}
	if entries[1].Type != "burst" || entries[1].Burst == nil || entries[1].Burst.BurstID != "b1" {
		t.Fatalf("burst entry %+v", entries[1])
	}
}

func TestSegmentWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewSegmentWriter(dir, JournalPrefix)
	now := time.Date(2026, 1, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	if err := w.Append(Entry{Type: "chunk"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Append(Entry{Type: "burst"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	segs, err := Segments(dir, JournalPrefix)
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	want := []string{
		filepath.Join(dir, "journal-2026-01-01-10.jsonl.zst"),
		filepath.Join(dir, "journal-2026-01-01-11.jsonl.zst"),
	}
	if len(segs) != 2 || segs[0] != want[0] || segs[1] != want[1] {
		t.Fatalf("segments=%v want %v", segs, want)
	}
	for _, p := range segs {
		if got := readEntries(t, p); len(got) != 1 {
			t.Fatalf("%s: %d entries want 1", p, len(got))
		}
	}
}

func TestSegmentWriter_ReopenAppendsFrame(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 5, 6, 7, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		w := NewSegmentWriter(dir, JournalPrefix)
		w.now = func() time.Time { return fixed }
		if err := w.Append(Entry{Type: "chunk"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if got := readEntries(t, SegmentPath(dir, JournalPrefix, fixed)); len(got) != 2 {
		t.Fatalf("entries after reopen=%d want 2", len(got))
	}
}

func TestSegments_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"journal-2026-01-01-00.jsonl.zst", "events-2026-01-01-00.jsonl.zst", "journal.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "journal-sub.jsonl.zst"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	segs, err := Segments(dir, JournalPrefix)
	if err != nil || len(segs) != 1 {
		t.Fatalf("segments=%v err=%v", segs, err)
	}
}

func TestReadJournal_StopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, nil)
	j.w.now = func() time.Time { return time.Date(2026, 2, 2, 2, 0, 0, 0, time.UTC) }
	for i := 0; i < 3; i++ {
		if err := j.WriteChunk(terrain.ChunkRecord{CX: i}); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}
	_ = j.Close()
	segs, _ := Segments(dir, JournalPrefix)
	if len(segs) != 1 {
		t.Fatalf("segments=%v", segs)
	}
	stop := errors.New("stop")
	seen := 0
	err := ReadJournal(segs[0], func(Entry) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || seen != 2 {
		t.Fatalf("err=%v seen=%d", err, seen)
	}
}
