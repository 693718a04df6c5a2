package terrain

// ChunkRecord describes one finished generation task.
type ChunkRecord struct {
	RunID      string `json:"run_id"`
	CX         int    `json:"cx"`
	CZ         int    `json:"cz"`
	Source     string `json:"source"` // SourceGenerated or SourceLoaded
	Digest     string `json:"digest"`
	Bytes      int    `json:"bytes"` // saved size, 0 if not saved
	Triangles  int    `json:"triangles"`
	Vertices   int    `json:"vertices"`
	DurationUs int64  `json:"duration_us"`
	AtUnixMs   int64  `json:"at_unix_ms"`
}

const (
	SourceGenerated = "generated"
	SourceLoaded    = "loaded"
)

// BurstRecord summarizes one finished scheduler burst.
type BurstRecord struct {
	RunID      string `json:"run_id"`
	BurstID    string `json:"burst_id"`
	ViewerCX   int    `json:"viewer_cx"`
	ViewerCZ   int    `json:"viewer_cz"`
	Radius     int    `json:"radius"`
	Enqueued   int    `json:"enqueued"`
	Ran        int    `json:"ran"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
	AtUnixMs   int64  `json:"at_unix_ms"`
}

// Recorder receives generation history. Implementations must not block the worker
// for long and must never fail generation.
type Recorder interface {
	RecordChunk(ChunkRecord)
	RecordBurst(BurstRecord)
}
