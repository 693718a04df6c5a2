// Command replay re-generates the chunks recorded in a terrain journal and checks
// that the voxel digests still match.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxelterrain.dev/internal/persistence/indexdb"
	persistlog "voxelterrain.dev/internal/persistence/log"
	"voxelterrain.dev/internal/sim/terrain"
	"voxelterrain.dev/internal/sim/terrain/chunk"
	"voxelterrain.dev/internal/sim/terrain/gen"
	"voxelterrain.dev/internal/sim/terrain/noise"
	"voxelterrain.dev/internal/sim/terrain/voxel"
	"voxelterrain.dev/internal/sim/tuning"
)

func main() {
	var (
		journalDir = flag.String("journal", "./data/journal", "journal dir containing journal-*.jsonl.zst")
		indexPath  = flag.String("index", "", "sqlite index to read per-run tuning from (optional)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "fallback tuning.yaml (default: <configs>/tuning.yaml)")
		seed       = flag.Int64("seed", 0, "override the fallback tuning seed")
		runID      = flag.String("run", "", "only verify this run id (optional)")
		maxShow    = flag.Int("show", 20, "mismatches to print")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	fallback, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		fallback = tuning.Defaults()
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			fallback.Seed = *seed
		}
	})

	tuningFor := func(string) (tuning.Tuning, error) { return fallback, nil }
	if p := strings.TrimSpace(*indexPath); p != "" {
		idx, err := indexdb.OpenSQLite(p, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open index:", err)
			os.Exit(1)
		}
		defer idx.Close()
		tuningFor = func(run string) (tuning.Tuning, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			t, ok, err := idx.RunTuning(ctx, run)
			if err != nil {
				return tuning.Tuning{}, err
			}
			if !ok {
				return fallback, nil
			}
			return t, nil
		}
	}

	files, err := persistlog.Segments(*journalDir, persistlog.JournalPrefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", *journalDir)
		os.Exit(1)
	}

	v := newVerifier(tuningFor)
	v.run = strings.TrimSpace(*runID)
	for _, path := range files {
		if err := v.replayFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}

	for i, m := range v.mismatches {
		if i >= *maxShow {
			fmt.Printf("... %d more\n", len(v.mismatches)-i)
			break
		}
		fmt.Printf("mismatch run=%s chunk=%v want=%s got=%s\n", m.RunID, m.Key, m.Want, m.Got)
	}
	fmt.Printf("replay: files=%d runs=%d bursts=%d checked=%d skipped=%d mismatches=%d\n",
		len(files), len(v.gens), v.bursts, v.checked, v.skipped, len(v.mismatches))
	if len(v.mismatches) > 0 {
		os.Exit(1)
	}
}

type mismatch struct {
	RunID     string
	Key       chunk.Key
	Want, Got string
}

type runGen struct {
	gen  *gen.Generator
	grid *voxel.Grid
}

type verifier struct {
	tuningFor func(runID string) (tuning.Tuning, error)
	run       string

	gens       map[string]runGen
	checked    int
	skipped    int
	bursts     int
	mismatches []mismatch
}

func newVerifier(tuningFor func(string) (tuning.Tuning, error)) *verifier {
	return &verifier{tuningFor: tuningFor, gens: map[string]runGen{}}
}

func (v *verifier) replayFile(path string) error {
	return persistlog.ReadJournal(path, func(e persistlog.Entry) error {
		switch {
		case e.Burst != nil:
			if v.run == "" || e.Burst.RunID == v.run {
				v.bursts++
			}
		case e.Chunk != nil:
			return v.check(*e.Chunk)
		}
		return nil
	})
}

// check regenerates a chunk that was generated (not loaded) and compares digests.
// Loaded chunks carry whatever was on disk and cannot be re-derived from the run.
func (v *verifier) check(r terrain.ChunkRecord) error {
	if v.run != "" && r.RunID != v.run {
		return nil
	}
	if r.Source != terrain.SourceGenerated {
		v.skipped++
		return nil
	}
	rg, err := v.generator(r.RunID)
	if err != nil {
		return err
	}
	rg.gen.Generate(rg.grid, r.CX, r.CZ)
	v.checked++
	if got := rg.grid.Digest(); got != r.Digest {
		v.mismatches = append(v.mismatches, mismatch{RunID: r.RunID, Key: chunk.Key{CX: r.CX, CZ: r.CZ}, Want: r.Digest, Got: got})
	}
	return nil
}

func (v *verifier) generator(runID string) (runGen, error) {
	if rg, ok := v.gens[runID]; ok {
		return rg, nil
	}
	tune, err := v.tuningFor(runID)
	if err != nil {
		return runGen{}, fmt.Errorf("run %s: %w", runID, err)
	}
	cfg, err := terrain.ConfigFromTuning(tune)
	if err != nil {
		return runGen{}, fmt.Errorf("run %s: %w", runID, err)
	}
	g, err := gen.New(cfg.Gen, noise.New(cfg.Seed))
	if err != nil {
		return runGen{}, fmt.Errorf("run %s: %w", runID, err)
	}
	rg := runGen{gen: g, grid: voxel.NewGrid(cfg.Gen.Dims)}
	v.gens[runID] = rg
	return rg, nil
}
