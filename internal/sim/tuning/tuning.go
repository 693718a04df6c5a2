package tuning

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	ChunkSize          []int   `yaml:"chunk_size"`
	VisibilityRadius   int     `yaml:"visibility_radius"`
	Seed               int64   `yaml:"seed"`
	HeightmapAmplitude int     `yaml:"heightmap_amplitude"`
	HeightmapScale     float64 `yaml:"heightmap_scale"`
	// BaseHeight <= 0 means a quarter of the chunk height.
	BaseHeight    int    `yaml:"base_height"`
	BedrockLayers int    `yaml:"bedrock_layers"`
	MeshMode      string `yaml:"mesh_mode"`

	// CommitsPerSecond caps mesh uploads; 0 means no limit.
	CommitsPerSecond float64 `yaml:"commits_per_second"`
	CommitBurst      int     `yaml:"commit_burst"`

	Caves    Caves    `yaml:"caves"`
	Storage  Storage  `yaml:"storage"`
	Index    Index    `yaml:"index"`
	Journal  Journal  `yaml:"journal"`
	Observer Observer `yaml:"observer"`
}

type Caves struct {
	Enabled bool `yaml:"enabled"`
	// Threshold has no default; it must be set when caves are enabled.
	Threshold *float64 `yaml:"threshold"`
	Scale     float64  `yaml:"scale"`
}

type Storage struct {
	Backend string `yaml:"backend"` // files | leveldb | none
	Dir     string `yaml:"dir"`
}

type Index struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Journal struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type Observer struct {
	StatusEveryMs int `yaml:"status_every_ms"`
}

const ProtocolVersion = "0.1"

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    ProtocolVersion,
		ChunkSize:          []int{16, 256, 16},
		VisibilityRadius:   4,
		HeightmapAmplitude: 16,
		HeightmapScale:     32,
		BedrockLayers:      2,
		MeshMode:           "greedy",
		CommitBurst:        1,
		Caves:              Caves{Scale: 0.1},
		Storage:            Storage{Backend: "files", Dir: "chunks"},
		Index:              Index{Enabled: true, Path: "index/terrain.sqlite"},
		Journal:            Journal{Enabled: true, Dir: "journal"},
		Observer:           Observer{StatusEveryMs: 500},
	}
}

// Load reads path over Defaults. Unknown keys are rejected.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if len(t.ChunkSize) != 3 {
		return fmt.Errorf("chunk_size must have 3 entries, got %d", len(t.ChunkSize))
	}
	for i, v := range t.ChunkSize {
		if v <= 0 {
			return fmt.Errorf("chunk_size[%d] must be > 0, got %d", i, v)
		}
	}
	if t.VisibilityRadius < 0 {
		return fmt.Errorf("visibility_radius must be >= 0, got %d", t.VisibilityRadius)
	}
	if t.HeightmapAmplitude < 0 {
		return fmt.Errorf("heightmap_amplitude must be >= 0, got %d", t.HeightmapAmplitude)
	}
	if t.HeightmapScale <= 0 {
		return fmt.Errorf("heightmap_scale must be > 0, got %v", t.HeightmapScale)
	}
	if t.BedrockLayers < 0 {
		return fmt.Errorf("bedrock_layers must be >= 0, got %d", t.BedrockLayers)
	}
	if base := t.EffectiveBaseHeight(); base+t.HeightmapAmplitude > t.ChunkSize[1] {
		return fmt.Errorf("base_height %d + heightmap_amplitude %d exceeds chunk height %d", base, t.HeightmapAmplitude, t.ChunkSize[1])
	}
	switch t.MeshMode {
	case "greedy", "points":
	default:
		return fmt.Errorf("unknown mesh_mode %q", t.MeshMode)
	}
	if t.CommitsPerSecond < 0 {
		return fmt.Errorf("commits_per_second must be >= 0, got %v", t.CommitsPerSecond)
	}
	if t.Caves.Enabled {
		if t.Caves.Threshold == nil {
			return errors.New("caves.threshold is required when caves are enabled")
		}
		if t.Caves.Scale <= 0 {
			return fmt.Errorf("caves.scale must be > 0, got %v", t.Caves.Scale)
		}
	}
	switch t.Storage.Backend {
	case "files", "leveldb", "none":
	default:
		return fmt.Errorf("unknown storage.backend %q", t.Storage.Backend)
	}
	if t.Observer.StatusEveryMs <= 0 {
		return fmt.Errorf("observer.status_every_ms must be > 0, got %d", t.Observer.StatusEveryMs)
	}
	return nil
}

func (t Tuning) EffectiveBaseHeight() int {
	if t.BaseHeight > 0 {
		return t.BaseHeight
	}
	if len(t.ChunkSize) == 3 {
		return t.ChunkSize[1] / 4
	}
	return 0
}
