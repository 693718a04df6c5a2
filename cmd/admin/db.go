package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/terrain.sqlite)")
	runID := fs.String("run", "", "run_id filter (chunks, bursts)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "terrain.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	if err := runQuery(db, q, strings.TrimSpace(*runID), *limit, printJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-run RUN] [-limit N] runs|chunks|bursts")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type runRow struct {
	RunID        string `json:"run_id"`
	Seed         int64  `json:"seed"`
	TuningDigest string `json:"tuning_digest"`
	StartedAt    string `json:"started_at"`
}

type chunkRow struct {
	CX          int    `json:"cx"`
	CZ          int    `json:"cz"`
	RunID       string `json:"run_id"`
	Source      string `json:"source"`
	Digest      string `json:"digest"`
	Bytes       int    `json:"bytes"`
	Triangles   int    `json:"triangles"`
	Generations int    `json:"generations"`
	AtUnixMs    int64  `json:"at_unix_ms"`
}

type burstRow struct {
	BurstID    string `json:"burst_id"`
	RunID      string `json:"run_id"`
	ViewerCX   int    `json:"viewer_cx"`
	ViewerCZ   int    `json:"viewer_cz"`
	Radius     int    `json:"radius"`
	Enqueued   int    `json:"enqueued"`
	Ran        int    `json:"ran"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
	AtUnixMs   int64  `json:"at_unix_ms"`
}

// runQuery emits one row per call to emit, newest first.
func runQuery(db *sql.DB, q, runID string, limit int, emit func(any)) error {
	switch q {
	case "runs":
		rows, err := db.Query(`SELECT run_id,seed,tuning_digest,started_at FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r runRow
			if err := rows.Scan(&r.RunID, &r.Seed, &r.TuningDigest, &r.StartedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "chunks":
		query := `SELECT cx,cz,run_id,source,digest,bytes,triangles,generations,at_unix_ms FROM chunks ORDER BY at_unix_ms DESC LIMIT ?`
		args := []any{limit}
		if runID != "" {
			query = `SELECT cx,cz,run_id,source,digest,bytes,triangles,generations,at_unix_ms FROM chunks WHERE run_id=? ORDER BY at_unix_ms DESC LIMIT ?`
			args = []any{runID, limit}
		}
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r chunkRow
			if err := rows.Scan(&r.CX, &r.CZ, &r.RunID, &r.Source, &r.Digest, &r.Bytes, &r.Triangles, &r.Generations, &r.AtUnixMs); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()

	case "bursts":
		query := `SELECT burst_id,run_id,viewer_cx,viewer_cz,radius,enqueued,ran,failed,duration_ms,at_unix_ms FROM bursts ORDER BY at_unix_ms DESC LIMIT ?`
		args := []any{limit}
		if runID != "" {
			query = `SELECT burst_id,run_id,viewer_cx,viewer_cz,radius,enqueued,ran,failed,duration_ms,at_unix_ms FROM bursts WHERE run_id=? ORDER BY at_unix_ms DESC LIMIT ?`
			args = []any{runID, limit}
		}
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r burstRow
			if err := rows.Scan(&r.BurstID, &r.RunID, &r.ViewerCX, &r.ViewerCZ, &r.Radius, &r.Enqueued, &r.Ran, &r.Failed, &r.DurationMs, &r.AtUnixMs); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			emit(r)
		}
		return rows.Err()
	}
	return fmt.Errorf("unknown query: %s", q)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
