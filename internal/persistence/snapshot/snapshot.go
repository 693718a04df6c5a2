// Package snapshot bundles every chunk of a store into one zstd-compressed file,
// for backups and for moving terrain between store backends.
//
// The file is a JSON header line followed by a gob-encoded SnapshotV1.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"voxelterrain.dev/internal/sim/terrain/chunk"
	"voxelterrain.dev/internal/sim/terrain/store"
)

const Version = 1

var ErrDims = errors.New("snapshot: chunk size mismatch")

type Header struct {
	Version       int    `json:"version"`
	RunID         string `json:"run_id,omitempty"`
	Seed          int64  `json:"seed"`
	ChunkSize     [3]int `json:"chunk_size"`
	Chunks        int    `json:"chunks"`
	CreatedUnixMs int64  `json:"created_unix_ms"`
}

type ChunkV1 struct {
	CX  int
	CZ  int
	RLE []byte
}

type SnapshotV1 struct {
	Header Header
	Chunks []ChunkV1
}

// Export reads every chunk in st. hdr.ChunkSize and hdr.Chunks are filled in.
func Export(st *store.Store, hdr Header) (SnapshotV1, error) {
	keys, err := st.Keys()
	if err != nil {
		return SnapshotV1{}, err
	}
	d := st.Dims()
	hdr.Version = Version
	hdr.ChunkSize = [3]int{d.X, d.Y, d.Z}
	snap := SnapshotV1{Chunks: make([]ChunkV1, 0, len(keys))}
	for _, k := range keys {
		raw, err := st.ReadRaw(k)
		if err != nil {
			return SnapshotV1{}, err
		}
		snap.Chunks = append(snap.Chunks, ChunkV1{CX: k.CX, CZ: k.CZ, RLE: raw})
	}
	hdr.Chunks = len(snap.Chunks)
	snap.Header = hdr
	return snap, nil
}

// Import writes every chunk of snap into st, replacing chunks with the same key.
// It stops at the first chunk that fails to decode.
func Import(snap SnapshotV1, st *store.Store) (int, error) {
	d := st.Dims()
	if snap.Header.ChunkSize != [3]int{d.X, d.Y, d.Z} {
		return 0, fmt.Errorf("%w: snapshot %v, store %v", ErrDims, snap.Header.ChunkSize, [3]int{d.X, d.Y, d.Z})
	}
	n := 0
	for _, c := range snap.Chunks {
		if err := st.WriteRaw(chunk.Key{CX: c.CX, CZ: c.CZ}, c.RLE); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// WriteSnapshot writes snap to path through a temp file in the same directory.
func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".snap-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(line, &hdr); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if hdr.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
