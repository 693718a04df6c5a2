// Package terrain streams voxel chunks around a moving viewer: it decides which
// chunks are live, generates (or loads) and meshes them on a worker, and hands
// finished meshes to the render side.
//
// Update, Commit, Pick and Regenerate are meant to be called from one goroutine,
// typically once per frame. Generation runs concurrently on scheduler workers.
package terrain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"voxelterrain.dev/internal/sim/mathx"
	"voxelterrain.dev/internal/sim/terrain/chunk"
	"voxelterrain.dev/internal/sim/terrain/gen"
	"voxelterrain.dev/internal/sim/terrain/mesh"
	"voxelterrain.dev/internal/sim/terrain/noise"
	"voxelterrain.dev/internal/sim/terrain/pick"
	"voxelterrain.dev/internal/sim/terrain/sched"
	"voxelterrain.dev/internal/sim/terrain/store"
	"voxelterrain.dev/internal/sim/terrain/voxel"
	"voxelterrain.dev/internal/sim/tuning"
)

var (
	ErrClosed       = errors.New("terrain: closed")
	ErrUnknownChunk = errors.New("terrain: chunk not cached")
)

type Config struct {
	Gen      gen.Params
	Seed     int64
	Radius   int
	MeshMode mesh.Mode

	// CommitsPerSecond caps mesh uploads across Commit calls; 0 means unlimited.
	CommitsPerSecond float64
	CommitBurst      int
}

func ConfigFromTuning(t tuning.Tuning) (Config, error) {
	if err := t.Validate(); err != nil {
		return Config{}, err
	}
	d := voxel.Dims{X: t.ChunkSize[0], Y: t.ChunkSize[1], Z: t.ChunkSize[2]}
	p := gen.DefaultParams(d)
	p.BaseHeight = t.EffectiveBaseHeight()
	p.Amplitude = t.HeightmapAmplitude
	p.Scale = t.HeightmapScale
	p.BedrockLayers = t.BedrockLayers
	if t.Caves.Enabled {
		p.Caves = gen.Caves{Enabled: true, Threshold: *t.Caves.Threshold, Scale: t.Caves.Scale}
	}
	mode, ok := mesh.ParseMode(t.MeshMode)
	if !ok {
		return Config{}, fmt.Errorf("unknown mesh mode %q", t.MeshMode)
	}
	return Config{
		Gen:              p,
		Seed:             t.Seed,
		Radius:           t.VisibilityRadius,
		MeshMode:         mode,
		CommitsPerSecond: t.CommitsPerSecond,
		CommitBurst:      t.CommitBurst,
	}, nil
}

// Deps are optional collaborators. A nil Store disables persistence.
type Deps struct {
	Log       *log.Logger
	Noise     noise.Sampler
	Store     *store.Store
	Recorders []Recorder
}

// MeshSink receives committed meshes, e.g. to upload them to the GPU.
type MeshSink interface {
	Upload(k chunk.Key, d mesh.Desc) error
}

type MeshSinkFunc func(k chunk.Key, d mesh.Desc) error

func (f MeshSinkFunc) Upload(k chunk.Key, d mesh.Desc) error { return f(k, d) }

type Terrain struct {
	cfg   Config
	log   *log.Logger
	runID string

	gen       *gen.Generator
	builder   *mesh.Builder
	cache     *chunk.Cache
	sched     *sched.Scheduler
	store     *store.Store
	recorders []Recorder
	limiter   *rate.Limiter

	mu   sync.Mutex
	last *sched.Burst

	watchers sync.WaitGroup
	closed   atomic.Bool
}

func New(cfg Config, deps Deps) (*Terrain, error) {
	n := deps.Noise
	if n == nil {
		n = noise.New(cfg.Seed)
	}
	g, err := gen.New(cfg.Gen, n)
	if err != nil {
		return nil, fmt.Errorf("terrain: %w", err)
	}
	if cfg.Radius < 0 {
		return nil, fmt.Errorf("terrain: negative radius %d", cfg.Radius)
	}

	limit := rate.Inf
	if cfg.CommitsPerSecond > 0 {
		limit = rate.Limit(cfg.CommitsPerSecond)
	}
	burst := cfg.CommitBurst
	if burst <= 0 {
		burst = 1
	}

	t := &Terrain{
		cfg:       cfg,
		log:       deps.Log,
		runID:     uuid.NewString(),
		gen:       g,
		builder:   &mesh.Builder{Mode: cfg.MeshMode, Log: deps.Log},
		cache:     chunk.NewCache(cfg.Gen.Dims),
		store:     deps.Store,
		recorders: deps.Recorders,
		limiter:   rate.NewLimiter(limit, burst),
	}
	t.sched = sched.New(t.cache, t.generate, cfg.Radius, deps.Log)
	return t, nil
}

func (t *Terrain) RunID() string { return t.runID }

func (t *Terrain) Config() Config { return t.cfg }

func (t *Terrain) Dims() voxel.Dims { return t.cfg.Gen.Dims }

func (t *Terrain) Generator() *gen.Generator { return t.gen }

// ViewerChunk maps a world position to the chunk containing it.
func (t *Terrain) ViewerChunk(pos mgl32.Vec3) chunk.Key {
	d := t.cfg.Gen.Dims
	cx, _ := mathx.WorldToChunk(int(math.Floor(float64(pos[0]))), d.X)
	cz, _ := mathx.WorldToChunk(int(math.Floor(float64(pos[2]))), d.Z)
	return chunk.Key{CX: cx, CZ: cz}
}

// Update runs one scheduler pass around viewer.
func (t *Terrain) Update(viewer chunk.Key) (*sched.Burst, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	b := t.sched.Update(viewer)
	if b.Enqueued() > 0 {
		t.mu.Lock()
		t.last = b
		t.mu.Unlock()
		t.watchers.Add(1)
		go t.watch(b)
	}
	return b, nil
}

func (t *Terrain) watch(b *sched.Burst) {
	defer t.watchers.Done()
	<-b.Done()
	st := b.Stats()
	if t.log != nil && st.Failed > 0 {
		t.log.Printf("burst %s around %v: %d of %d tasks failed", st.ID, st.Viewer, st.Failed, st.Enqueued)
	}
	rec := BurstRecord{
		RunID:      t.runID,
		BurstID:    st.ID,
		ViewerCX:   st.Viewer.CX,
		ViewerCZ:   st.Viewer.CZ,
		Radius:     t.sched.Radius(),
		Enqueued:   st.Enqueued,
		Ran:        st.Ran,
		Failed:     st.Failed,
		DurationMs: st.Duration.Milliseconds(),
		AtUnixMs:   time.Now().UnixMilli(),
	}
	for _, r := range t.recorders {
		r.RecordBurst(rec)
	}
}

// generate is the scheduler's work function; it runs on a worker goroutine.
func (t *Terrain) generate(c *chunk.Chunk) error {
	start := time.Now()
	k := c.Key()
	grid := c.Voxels()

	source := SourceGenerated
	if t.store != nil {
		err := t.store.Load(k, grid)
		switch {
		case err == nil:
			source = SourceLoaded
		case errors.Is(err, store.ErrNotFound):
		default:
			if t.log != nil {
				t.log.Printf("chunk %v: %v; regenerating", k, err)
			}
		}
	}
	if source == SourceGenerated {
		t.gen.Generate(grid, k.CX, k.CZ)
	}

	buf := t.builder.Build(grid)

	// The grid belongs to the frame goroutine once Finish returns.
	var data []byte
	if source == SourceGenerated && t.store != nil {
		data = store.Encode(grid)
	}
	digest := ""
	if len(t.recorders) > 0 {
		digest = grid.Digest()
	}
	if err := c.Finish(buf); err != nil {
		return err
	}

	saved := 0
	if data != nil {
		n, err := t.store.Put(k, data)
		if err != nil {
			if t.log != nil {
				t.log.Printf("chunk %v: %v", k, err)
			}
		} else {
			saved = n
		}
	}

	if len(t.recorders) == 0 {
		return nil
	}
	rec := ChunkRecord{
		RunID:      t.runID,
		CX:         k.CX,
		CZ:         k.CZ,
		Source:     source,
		Digest:     digest,
		Bytes:      saved,
		Triangles:  buf.Triangles,
		Vertices:   buf.VertexCount(),
		DurationUs: time.Since(start).Microseconds(),
		AtUnixMs:   time.Now().UnixMilli(),
	}
	for _, r := range t.recorders {
		r.RecordChunk(rec)
	}
	return nil
}

// Commit uploads the meshes of live Generated chunks, nearest first, and marks them
// Updated. It stops early when the commit rate limit is reached and returns the
// number of chunks committed.
func (t *Terrain) Commit(sink MeshSink) int {
	n := 0
	for _, k := range t.sched.Live() {
		c, ok := t.cache.Lookup(k)
		if !ok || !c.IsGenerated() {
			continue
		}
		committed, more := t.commitChunk(sink, c, time.Now())
		if committed {
			n++
		}
		if !more {
			break
		}
	}
	return n
}

// commitChunk uploads c if it is still Generated. more is false once the rate limit
// is reached. A chunk that lost its state to a concurrent reset gives its token back.
func (t *Terrain) commitChunk(sink MeshSink, c *chunk.Chunk, now time.Time) (committed, more bool) {
	r := t.limiter.ReserveN(now, 1)
	if !r.OK() || r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return false, false
	}
	buf, ok := c.CommitMesh()
	if !ok {
		r.CancelAt(now)
		return false, true
	}
	if err := sink.Upload(c.Key(), buf.Desc(c.Origin())); err != nil && t.log != nil {
		t.log.Printf("chunk %v: upload: %v", c.Key(), err)
	}
	return true, true
}

type PickHit struct {
	Chunk    chunk.Key
	Local    [3]int
	World    [3]int
	Type     voxel.Type
	Distance float32
}

// Pick returns the closest solid voxel hit by the ray among visible live chunks.
func (t *Terrain) Pick(origin, dir mgl32.Vec3) (PickHit, bool) {
	var best PickHit
	found := false
	for _, k := range t.sched.Live() {
		c, ok := t.cache.Lookup(k)
		if !ok || !c.IsUpdated() || c.Locked() {
			continue
		}
		h, ok := pick.Grid(c.Voxels(), c.Origin(), origin, dir)
		if !ok || (found && h.Distance >= best.Distance) {
			continue
		}
		o := c.Origin()
		best = PickHit{
			Chunk:    k,
			Local:    h.Voxel,
			World:    [3]int{int(o[0]) + h.Voxel[0], int(o[1]) + h.Voxel[1], int(o[2]) + h.Voxel[2]},
			Type:     h.Type,
			Distance: h.Distance,
		}
		found = true
	}
	return best, found
}

// Regenerate hides chunk k and queues it again if it is live.
func (t *Terrain) Regenerate(k chunk.Key) (*sched.Burst, error) {
	c, ok := t.cache.Lookup(k)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownChunk, k)
	}
	c.ResetState()
	return t.Update(t.sched.Viewer())
}

// Chunk returns the cached chunk at k.
func (t *Terrain) Chunk(k chunk.Key) (*chunk.Chunk, bool) { return t.cache.Lookup(k) }

func (t *Terrain) SetRadius(r int) { t.sched.SetRadius(r) }

type Status struct {
	RunID        string
	Viewer       chunk.Key
	Radius       int
	Live         int
	Cached       int
	NotGenerated int
	Generated    int
	Updated      int
	Pending      int
	Workers      int
	LastBurst    *sched.BurstStats
}

// Status counts states over the live set.
func (t *Terrain) Status() Status {
	live := t.sched.Live()
	st := Status{
		RunID:   t.runID,
		Viewer:  t.sched.Viewer(),
		Radius:  t.sched.Radius(),
		Live:    len(live),
		Cached:  t.cache.Len(),
		Pending: t.sched.Pending(),
		Workers: t.sched.Workers(),
	}
	for _, k := range live {
		c, ok := t.cache.Lookup(k)
		if !ok {
			continue
		}
		switch c.State() {
		case chunk.NotGenerated:
			st.NotGenerated++
		case chunk.Generated:
			st.Generated++
		case chunk.Updated:
			st.Updated++
		}
	}
	t.mu.Lock()
	if t.last != nil {
		bs := t.last.Stats()
		st.LastBurst = &bs
	}
	t.mu.Unlock()
	return st
}

// SaveAll writes every generated cached chunk to the store.
func (t *Terrain) SaveAll() (int, error) {
	if t.store == nil {
		return 0, nil
	}
	var errs []error
	n := 0
	for _, k := range t.cache.Keys() {
		c, ok := t.cache.Lookup(k)
		if !ok || c.NeedsGeneration() {
			continue
		}
		if _, err := t.store.Save(c); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Close stops accepting updates and waits for in-flight bursts and their records.
// Recorders and the store stay open; their owner closes them afterwards.
func (t *Terrain) Close(ctx context.Context) error {
	t.closed.Store(true)
	done := make(chan struct{})
	go func() {
		t.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
