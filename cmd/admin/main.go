// Command admin inspects a terrain data directory offline and drives a running
// server's loopback admin endpoints.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxelterrain.dev/internal/persistence/snapshot"
	"voxelterrain.dev/internal/sim/terrain/chunk"
	"voxelterrain.dev/internal/sim/terrain/store"
	"voxelterrain.dev/internal/sim/terrain/voxel"
	"voxelterrain.dev/internal/sim/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "import":
			importCmd(os.Args[2:])
			return
		case "status":
			statusCmd(os.Args[2:])
			return
		case "pick":
			pickCmd(os.Args[2:])
			return
		case "regenerate":
			regenerateCmd(os.Args[2:])
			return
		case "save":
			saveCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

type storeFlags struct {
	dataDir   *string
	configDir *string
	backend   *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		dataDir:   fs.String("data", "./data", "runtime data directory"),
		configDir: fs.String("configs", "./configs", "config directory"),
		backend:   fs.String("backend", "", "store backend: files|leveldb (default: tuning storage.backend)"),
	}
}

func (f storeFlags) open() (*store.Store, tuning.Tuning, error) {
	tune, err := tuning.Load(filepath.Join(*f.configDir, "tuning.yaml"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, tune, err
		}
		tune = tuning.Defaults()
	}
	backend := strings.TrimSpace(*f.backend)
	if backend == "" {
		backend = tune.Storage.Backend
	}
	dir := tune.Storage.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(*f.dataDir, dir)
	}
	dims := voxel.Dims{X: tune.ChunkSize[0], Y: tune.ChunkSize[1], Z: tune.ChunkSize[2]}

	var b store.Backend
	switch backend {
	case "files":
		b, err = store.OpenFiles(dir)
	case "leveldb":
		b, err = store.OpenLevelDB(dir)
	default:
		return nil, tune, fmt.Errorf("unsupported store backend: %s", backend)
	}
	if err != nil {
		return nil, tune, err
	}
	return store.New(b, dims), tune, nil
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	sf := addStoreFlags(fs)
	_ = fs.Parse(args)

	st, _, err := sf.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	keys, err := st.Keys()
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, k := range keys {
		fmt.Println(store.Name(k))
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	sf := addStoreFlags(fs)
	cx := fs.Int("cx", 0, "chunk x")
	cz := fs.Int("cz", 0, "chunk z")
	_ = fs.Parse(args)

	st, tune, err := sf.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	k := chunk.Key{CX: *cx, CZ: *cz}
	grid := voxel.NewGrid(voxel.Dims{X: tune.ChunkSize[0], Y: tune.ChunkSize[1], Z: tune.ChunkSize[2]})
	if err := st.Load(k, grid); err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		if errors.Is(err, store.ErrNotFound) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	printJSON(summarize(k, grid))
}

type chunkSummary struct {
	CX        int            `json:"cx"`
	CZ        int            `json:"cz"`
	Digest    string         `json:"digest"`
	Counts    map[string]int `json:"counts"`
	MinHeight int            `json:"min_surface_y"`
	MaxHeight int            `json:"max_surface_y"`
}

// summarize counts voxel types and finds the lowest and highest top solid voxel
// over all columns. A column with no solid voxel has surface -1.
func summarize(k chunk.Key, g *voxel.Grid) chunkSummary {
	d := g.Dims()
	s := chunkSummary{CX: k.CX, CZ: k.CZ, Digest: g.Digest(), Counts: map[string]int{}, MinHeight: d.Y, MaxHeight: -1}
	for _, c := range g.Cells() {
		s.Counts[c.String()]++
	}
	for x := 0; x < d.X; x++ {
		for z := 0; z < d.Z; z++ {
			top := -1
			for y := d.Y - 1; y >= 0; y-- {
				if g.Get(x, y, z).Solid() {
					top = y
					break
				}
			}
			s.MinHeight = min(s.MinHeight, top)
			s.MaxHeight = max(s.MaxHeight, top)
		}
	}
	return s
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	sf := addStoreFlags(fs)
	out := fs.String("out", "", "snapshot path (default: <data>/snapshots/<unix_ms>.snap.zst)")
	runID := fs.String("run", "", "run id to record in the header (optional)")
	_ = fs.Parse(args)

	st, tune, err := sf.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	now := time.Now().UnixMilli()
	snap, err := snapshot.Export(st, snapshot.Header{RunID: *runID, Seed: tune.Seed, CreatedUnixMs: now})
	if err != nil {
		fmt.Fprintln(os.Stderr, "export:", err)
		os.Exit(1)
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		path = filepath.Join(*sf.dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", now))
	}
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("export ok: chunks=%d out=%s\n", snap.Header.Chunks, path)
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	sf := addStoreFlags(fs)
	in := fs.String("in", "", "snapshot path (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*in) == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(*in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	st, _, err := sf.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	n, err := snapshot.Import(snap, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "import: %v (%d of %d written)\n", err, n, len(snap.Chunks))
		os.Exit(1)
	}
	fmt.Printf("import ok: chunks=%d seed=%d run=%s\n", n, snap.Header.Seed, snap.Header.RunID)
}
