package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"voxelterrain.dev/internal/sim/terrain"
	"voxelterrain.dev/internal/sim/terrain/chunk"
	"voxelterrain.dev/internal/sim/tuning"
	"voxelterrain.dev/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		radius     = flag.Int("radius", -1, "visibility radius in chunks (default: tuning visibility_radius)")
		seed       = flag.Int64("seed", 0, "noise seed (default: tuning seed)")
		fps        = flag.Int("fps", 30, "frames per second of the viewer loop")
		walk       = flag.Float64("walk", 0.5, "viewer speed along +X in chunks per second")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite chunk index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[terrain] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			tune.Seed = *seed
		case "radius":
			tune.VisibilityRadius = *radius
		}
	})

	cfg, err := terrain.ConfigFromTuning(tune)
	if err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	_ = os.MkdirAll(*dataDir, 0o755)
	st, err := openStore(*dataDir, tune, logger)
	if err != nil {
		logger.Fatalf("open chunk store: %v", err)
	}
	if st != nil {
		defer st.Close()
	}

	// Journal and index are history only; generation never depends on them.
	recs, err := openRecorders(*dataDir, tune, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	defer recs.Close()

	t, err := terrain.New(cfg, terrain.Deps{Log: logger, Store: st, Recorders: recs.list})
	if err != nil {
		logger.Fatalf("terrain: %v", err)
	}
	recs.recordRun(t.RunID(), tune, logger)
	logger.Printf("run %s: seed=%d radius=%d chunk=%v mesh=%s", t.RunID(), cfg.Seed, cfg.Radius, tune.ChunkSize, cfg.MeshMode)

	ctx, cancel := signalContext()
	defer cancel()

	sink := &statsSink{}
	loop := newFrameLoop(t, sink, *fps, *walk, logger)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("frame loop stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, t.Status(), sink, loop.frames.Load())
		if recs.journal != nil {
			fmt.Fprintf(rw, "# HELP terrain_journal_lines_total Journal entries written.\n")
			fmt.Fprintf(rw, "# TYPE terrain_journal_lines_total counter\n")
			fmt.Fprintf(rw, "terrain_journal_lines_total %d\n", recs.journal.Lines())
		}
		if recs.index != nil {
			is := recs.index.Stats()
			fmt.Fprintf(rw, "# HELP terrain_index_queue_depth Chunk index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE terrain_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "terrain_index_queue_depth %d\n", is.QueueDepth)
			fmt.Fprintf(rw, "# HELP terrain_index_dropped_total Index records dropped under load.\n")
			fmt.Fprintf(rw, "# TYPE terrain_index_dropped_total counter\n")
			fmt.Fprintf(rw, "terrain_index_dropped_total{kind=%q} %d\n", "chunk", is.DropChunkTotal)
			fmt.Fprintf(rw, "terrain_index_dropped_total{kind=%q} %d\n", "burst", is.DropBurstTotal)
		}
	})

	obsSrv := observer.NewServer(t, time.Duration(tune.Observer.StatusEveryMs)*time.Millisecond, logger)
	mux.HandleFunc("/v1/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/v1/ws", obsSrv.WSHandler())

	if envBool("VT_ENABLE_ADMIN_HTTP", true) {
		registerAdmin(mux, loop)
	} else {
		logger.Printf("admin endpoints disabled (VT_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VT_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}

	<-loopDone
	ctx3, cancel3 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel3()
	if err := t.Close(ctx3); err != nil {
		logger.Printf("terrain close: %v", err)
	}
	logger.Printf("stopped")
}

func registerAdmin(mux *http.ServeMux, loop *frameLoop) {
	local := func(h http.HandlerFunc) http.HandlerFunc {
		return func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			h(rw, r)
		}
	}

	mux.HandleFunc("/admin/v1/status", local(func(rw http.ResponseWriter, r *http.Request) {
		var st terrain.Status
		if err := loop.Do(r.Context(), func(t *terrain.Terrain) { st = t.Status() }); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(rw, http.StatusOK, st)
	}))

	mux.HandleFunc("/admin/v1/pick", local(func(rw http.ResponseWriter, r *http.Request) {
		var v [6]float64
		for i, name := range []string{"ox", "oy", "oz", "dx", "dy", "dz"} {
			f, err := strconv.ParseFloat(r.URL.Query().Get(name), 32)
			if err != nil {
				http.Error(rw, "bad "+name, http.StatusBadRequest)
				return
			}
			v[i] = f
		}
		origin := mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
		dir := mgl32.Vec3{float32(v[3]), float32(v[4]), float32(v[5])}
		var hit terrain.PickHit
		var ok bool
		if err := loop.Do(r.Context(), func(t *terrain.Terrain) { hit, ok = t.Pick(origin, dir) }); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{
			"hit":      ok,
			"chunk":    [2]int{hit.Chunk.CX, hit.Chunk.CZ},
			"voxel":    hit.World,
			"type":     hit.Type.String(),
			"distance": hit.Distance,
		})
	}))

	mux.HandleFunc("/admin/v1/regenerate", local(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		cx, err1 := strconv.Atoi(r.URL.Query().Get("cx"))
		cz, err2 := strconv.Atoi(r.URL.Query().Get("cz"))
		if err1 != nil || err2 != nil {
			http.Error(rw, "bad cx/cz", http.StatusBadRequest)
			return
		}
		var regenErr error
		if err := loop.Do(r.Context(), func(t *terrain.Terrain) {
			_, regenErr = t.Regenerate(chunk.Key{CX: cx, CZ: cz})
		}); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if regenErr != nil {
			writeJSON(rw, http.StatusNotFound, map[string]any{"ok": false, "error": regenErr.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
	}))

	mux.HandleFunc("/admin/v1/save", local(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var n int
		var saveErr error
		if err := loop.Do(r.Context(), func(t *terrain.Terrain) { n, saveErr = t.SaveAll() }); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if saveErr != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "saved": n, "error": saveErr.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "saved": n})
	}))
}

func writeMetrics(rw http.ResponseWriter, st terrain.Status, sink *statsSink, frames uint64) {
	fmt.Fprintf(rw, "# HELP terrain_chunks Chunks by state within the live set.\n")
	fmt.Fprintf(rw, "# TYPE terrain_chunks gauge\n")
	fmt.Fprintf(rw, "terrain_chunks{state=%q} %d\n", "not_generated", st.NotGenerated)
	fmt.Fprintf(rw, "terrain_chunks{state=%q} %d\n", "generated", st.Generated)
	fmt.Fprintf(rw, "terrain_chunks{state=%q} %d\n", "updated", st.Updated)

	fmt.Fprintf(rw, "# HELP terrain_cached_chunks Chunks held in the cache.\n")
	fmt.Fprintf(rw, "# TYPE terrain_cached_chunks gauge\n")
	fmt.Fprintf(rw, "terrain_cached_chunks %d\n", st.Cached)

	fmt.Fprintf(rw, "# HELP terrain_queue_depth Pending generation tasks.\n")
	fmt.Fprintf(rw, "# TYPE terrain_queue_depth gauge\n")
	fmt.Fprintf(rw, "terrain_queue_depth %d\n", st.Pending)

	fmt.Fprintf(rw, "# HELP terrain_workers Running generation workers.\n")
	fmt.Fprintf(rw, "# TYPE terrain_workers gauge\n")
	fmt.Fprintf(rw, "terrain_workers %d\n", st.Workers)

	fmt.Fprintf(rw, "# HELP terrain_viewer_chunk Chunk coordinate of the viewer.\n")
	fmt.Fprintf(rw, "# TYPE terrain_viewer_chunk gauge\n")
	fmt.Fprintf(rw, "terrain_viewer_chunk{axis=%q} %d\n", "x", st.Viewer.CX)
	fmt.Fprintf(rw, "terrain_viewer_chunk{axis=%q} %d\n", "z", st.Viewer.CZ)

	fmt.Fprintf(rw, "# HELP terrain_mesh_uploads_total Meshes committed to the sink.\n")
	fmt.Fprintf(rw, "# TYPE terrain_mesh_uploads_total counter\n")
	fmt.Fprintf(rw, "terrain_mesh_uploads_total %d\n", sink.uploads.Load())
	fmt.Fprintf(rw, "terrain_mesh_bytes_total %d\n", sink.bytes.Load())
	fmt.Fprintf(rw, "terrain_mesh_triangles_total %d\n", sink.triangles.Load())

	fmt.Fprintf(rw, "# HELP terrain_frames_total Frames run by the viewer loop.\n")
	fmt.Fprintf(rw, "# TYPE terrain_frames_total counter\n")
	fmt.Fprintf(rw, "terrain_frames_total %d\n", frames)
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
