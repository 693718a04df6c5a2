package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"voxelterrain.dev/internal/persistence/indexdb"
	persistlog "voxelterrain.dev/internal/persistence/log"
	"voxelterrain.dev/internal/sim/terrain"
	"voxelterrain.dev/internal/sim/terrain/store"
	"voxelterrain.dev/internal/sim/terrain/voxel"
	"voxelterrain.dev/internal/sim/tuning"
)

// openStore opens the chunk store named by tuning. VT_STORE_BACKEND overrides the
// backend. It returns nil when persistence is off.
func openStore(dataDir string, tune tuning.Tuning, logger *log.Logger) (*store.Store, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VT_STORE_BACKEND")))
	if backend == "" {
		backend = tune.Storage.Backend
	}
	dims := voxel.Dims{X: tune.ChunkSize[0], Y: tune.ChunkSize[1], Z: tune.ChunkSize[2]}
	dir := resolve(dataDir, tune.Storage.Dir)

	switch backend {
	case "none", "off", "disabled":
		logger.Printf("chunk store disabled")
		return nil, nil
	case "files":
		b, err := store.OpenFiles(dir)
		if err != nil {
			return nil, err
		}
		logger.Printf("chunk store: files in %s", dir)
		return store.New(b, dims), nil
	case "leveldb":
		b, err := store.OpenLevelDB(dir)
		if err != nil {
			return nil, err
		}
		logger.Printf("chunk store: leveldb at %s", dir)
		return store.New(b, dims), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
}

type recorders struct {
	list    []terrain.Recorder
	journal *persistlog.Journal
	index   *indexdb.SQLiteIndex
}

func openRecorders(dataDir string, tune tuning.Tuning, disableDB bool, logger *log.Logger) (*recorders, error) {
	r := &recorders{}
	if tune.Journal.Enabled {
		r.journal = persistlog.NewJournal(resolve(dataDir, tune.Journal.Dir), logger)
		r.list = append(r.list, r.journal)
	}
	if tune.Index.Enabled && !disableDB {
		idx, err := indexdb.OpenSQLite(resolve(dataDir, tune.Index.Path), logger)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.index = idx
		r.list = append(r.list, idx)
	}
	return r, nil
}

func (r *recorders) recordRun(runID string, tune tuning.Tuning, logger *log.Logger) {
	if r.index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.index.RecordRun(ctx, runID, tune); err != nil {
		logger.Printf("index: record run: %v", err)
	}
}

func (r *recorders) Close() {
	if r.journal != nil {
		_ = r.journal.Close()
	}
	if r.index != nil {
		_ = r.index.Close()
	}
}

func resolve(dataDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
