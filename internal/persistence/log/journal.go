package log

import (
	"encoding/json"
	stdlog "log"

	"voxelterrain.dev/internal/sim/terrain"
)

// Entry is one journal line. Exactly one of Chunk and Burst is set.
type Entry struct {
	Type  string               `json:"type"` // "chunk" | "burst"
	Chunk *terrain.ChunkRecord `json:"chunk,omitempty"`
	Burst *terrain.BurstRecord `json:"burst,omitempty"`
}

// JournalPrefix names journal segments: journal-YYYY-MM-DD-HH.jsonl.zst.
const JournalPrefix = "journal"

// Journal is the generation history: one compressed JSON line per chunk and per burst.
type Journal struct {
	w   *SegmentWriter
	log *stdlog.Logger
}

func NewJournal(dir string, logger *stdlog.Logger) *Journal {
	return &Journal{w: NewSegmentWriter(dir, JournalPrefix), log: logger}
}

func (j *Journal) WriteChunk(r terrain.ChunkRecord) error {
	return j.w.Append(Entry{Type: "chunk", Chunk: &r})
}

func (j *Journal) WriteBurst(r terrain.BurstRecord) error {
	return j.w.Append(Entry{Type: "burst", Burst: &r})
}

func (j *Journal) RecordChunk(r terrain.ChunkRecord) {
	if err := j.WriteChunk(r); err != nil && j.log != nil {
		j.log.Printf("journal: chunk [%d, %d]: %v", r.CX, r.CZ, err)
	}
}

func (j *Journal) RecordBurst(r terrain.BurstRecord) {
	if err := j.WriteBurst(r); err != nil && j.log != nil {
		j.log.Printf("journal: burst %s: %v", r.BurstID, err)
	}
}

// Lines is the number of entries written by this journal.
func (j *Journal) Lines() uint64 { return j.w.Lines() }

func (j *Journal) Close() error { return j.w.Close() }

// ReadJournal calls fn with every entry of the journal segment at path, in order.
func ReadJournal(path string, fn func(Entry) error) error {
	return ScanSegment(path, func(line []byte) error {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		return fn(e)
	})
}
