package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeStatus    = "STATUS"
)

// Client -> Server. First message on the observer WS connection; may be re-sent to
// change the status interval.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	StatusEveryMs   int    `json:"status_every_ms,omitempty"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string         `json:"protocol_version"`
	RunID           string         `json:"run_id"`
	TerrainParams   TerrainParams  `json:"terrain_params"`
	Palette         []PaletteEntry `json:"palette"`
}

type TerrainParams struct {
	ChunkSize     [3]int  `json:"chunk_size"`
	Seed          int64   `json:"seed"`
	Radius        int     `json:"radius"`
	BaseHeight    int     `json:"base_height"`
	Amplitude     int     `json:"amplitude"`
	Scale         float64 `json:"scale"`
	BedrockLayers int     `json:"bedrock_layers"`
	CavesEnabled  bool    `json:"caves_enabled"`
	MeshMode      string  `json:"mesh_mode"`
}

type PaletteEntry struct {
	Code uint8      `json:"code"`
	Name string     `json:"name"`
	RGBA [4]float32 `json:"rgba"`
}

// Server -> Client. Sent every status interval.
type StatusMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	AtUnixMs        int64  `json:"at_unix_ms"`

	Viewer       [2]int `json:"viewer"`
	Radius       int    `json:"radius"`
	Live         int    `json:"live"`
	Cached       int    `json:"cached"`
	NotGenerated int    `json:"not_generated"`
	Generated    int    `json:"generated"`
	Updated      int    `json:"updated"`
	Pending      int    `json:"pending"`
	Workers      int    `json:"workers"`

	LastBurst *BurstSummary `json:"last_burst,omitempty"`
}

type BurstSummary struct {
	ID         string `json:"id"`
	Viewer     [2]int `json:"viewer"`
	Enqueued   int    `json:"enqueued"`
	Ran        int    `json:"ran"`
	Failed     int    `json:"failed"`
	Done       bool   `json:"done"`
	DurationMs int64  `json:"duration_ms"`
}
