// Package indexdb keeps a queryable SQLite read-model of generation history.
// It is secondary: the chunk store and the journal are the source of truth, and
// records are dropped rather than stalling the generator.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelterrain.dev/internal/sim/terrain"
	"voxelterrain.dev/internal/sim/terrain/chunk"
	"voxelterrain.dev/internal/sim/tuning"
)

type SQLiteIndex struct {
	db  *sql.DB
	log *log.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropChunk atomic.Uint64
	dropBurst atomic.Uint64
	writeErr  atomic.Uint64
}

type reqKind int

const (
	reqChunk reqKind = iota + 1
	reqBurst
	reqFlush
)

type req struct {
	kind reqKind

	chunk terrain.ChunkRecord
	burst terrain.BurstRecord
	ack   chan struct{}
}

const queueCapacity = 65536

func OpenSQLite(path string, logger *log.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer plus one reader for Lookup.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: logger,
		ch:  make(chan req, queueCapacity),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			source TEXT NOT NULL,
			digest TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			triangles INTEGER NOT NULL,
			vertices INTEGER NOT NULL,
			duration_us INTEGER NOT NULL,
			at_unix_ms INTEGER NOT NULL,
			generations INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (cx, cz)
		);`,
		`CREATE TABLE IF NOT EXISTS bursts (
			burst_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			viewer_cx INTEGER NOT NULL,
			viewer_cz INTEGER NOT NULL,
			radius INTEGER NOT NULL,
			enqueued INTEGER NOT NULL,
			ran INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			at_unix_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bursts_run_at ON bursts(run_id, at_unix_ms);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordRun stores the tuning a run was started with. It runs synchronously.
func (s *SQLiteIndex) RecordRun(ctx context.Context, runID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs(run_id,seed,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?)`,
		runID, tune.Seed, hex.EncodeToString(sum[:]), string(b), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteIndex) RecordChunk(r terrain.ChunkRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqChunk, chunk: r}:
	default:
		s.dropChunk.Add(1)
	}
}

func (s *SQLiteIndex) RecordBurst(r terrain.BurstRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqBurst, burst: r}:
	default:
		s.dropBurst.Add(1)
	}
}

// Flush commits everything queued before the call.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	ack := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, ack: ack}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type ChunkRow struct {
	Key         chunk.Key
	RunID       string
	Source      string
	Digest      string
	Bytes       int
	Triangles   int
	Vertices    int
	DurationUs  int64
	AtUnixMs    int64
	Generations int
}

// Lookup returns the latest committed record for k.
func (s *SQLiteIndex) Lookup(ctx context.Context, k chunk.Key) (ChunkRow, bool, error) {
	row := ChunkRow{Key: k}
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id,source,digest,bytes,triangles,vertices,duration_us,at_unix_ms,generations FROM chunks WHERE cx=? AND cz=?`,
		k.CX, k.CZ).Scan(&row.RunID, &row.Source, &row.Digest, &row.Bytes, &row.Triangles, &row.Vertices, &row.DurationUs, &row.AtUnixMs, &row.Generations)
	if errors.Is(err, sql.ErrNoRows) {
		return ChunkRow{}, false, nil
	}
	if err != nil {
		return ChunkRow{}, false, err
	}
	return row, true, nil
}

// RunTuning returns the tuning recorded for runID by RecordRun.
func (s *SQLiteIndex) RunTuning(ctx context.Context, runID string) (tuning.Tuning, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT tuning_json FROM runs WHERE run_id=?`, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return tuning.Tuning{}, false, nil
	}
	if err != nil {
		return tuning.Tuning{}, false, err
	}
	var t tuning.Tuning
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return tuning.Tuning{}, false, fmt.Errorf("run %s: tuning_json: %w", runID, err)
	}
	return t, true, nil
}

// CountBursts returns the number of bursts committed for runID.
func (s *SQLiteIndex) CountBursts(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bursts WHERE run_id=?`, runID).Scan(&n)
	return n, err
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropChunkTotal uint64
	DropBurstTotal uint64
	WriteErrTotal  uint64
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropChunkTotal: s.dropChunk.Load(),
		DropBurstTotal: s.dropBurst.Load(),
		WriteErrTotal:  s.writeErr.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	upsertChunk, _ := s.db.Prepare(`INSERT INTO chunks(cx,cz,run_id,source,digest,bytes,triangles,vertices,duration_us,at_unix_ms)
		VALUES(?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(cx,cz) DO UPDATE SET
			run_id=excluded.run_id, source=excluded.source, digest=excluded.digest, bytes=excluded.bytes,
			triangles=excluded.triangles, vertices=excluded.vertices, duration_us=excluded.duration_us,
			at_unix_ms=excluded.at_unix_ms, generations=chunks.generations+1`)
	insertBurst, _ := s.db.Prepare(`INSERT OR REPLACE INTO bursts(burst_id,run_id,viewer_cx,viewer_cz,radius,enqueued,ran,failed,duration_ms,at_unix_ms) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if upsertChunk != nil {
			_ = upsertChunk.Close()
		}
		if insertBurst != nil {
			_ = insertBurst.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErr.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErr.Add(1)
			if s.log != nil {
				s.log.Printf("indexdb: commit: %v", err)
			}
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		s.writeErr.Add(1)
		if s.log != nil {
			s.log.Printf("indexdb: write: %v", err)
		}
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()
	for {
		var r req
		var ok bool
		select {
		case r, ok = <-s.ch:
			if !ok {
				commit()
				return
			}
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.ack)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqChunk:
			c := r.chunk
			if upsertChunk == nil {
				break
			}
			if _, err := tx.Stmt(upsertChunk).Exec(c.CX, c.CZ, c.RunID, c.Source, c.Digest, c.Bytes, c.Triangles, c.Vertices, c.DurationUs, c.AtUnixMs); err != nil {
				rollback(err)
				continue
			}
			opCount++
		case reqBurst:
			b := r.burst
			if insertBurst == nil {
				break
			}
			if _, err := tx.Stmt(insertBurst).Exec(b.BurstID, b.RunID, b.ViewerCX, b.ViewerCZ, b.Radius, b.Enqueued, b.Ran, b.Failed, b.DurationMs, b.AtUnixMs); err != nil {
				rollback(err)
				continue
			}
			opCount++
		}
		if opCount >= commitEvery {
			commit()
		}
	}
}
