// Package store persists generated chunks as run-length encoded voxel streams.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"voxelterrain.dev/internal/sim/encoding"
	"voxelterrain.dev/internal/sim/terrain/chunk"
	"voxelterrain.dev/internal/sim/terrain/voxel"
)

var (
	// ErrNotFound means nothing was saved for the chunk. Callers generate instead.
	ErrNotFound = errors.New("store: chunk not found")
	// ErrNotGenerated is returned by Save for a chunk still waiting on its worker.
	ErrNotGenerated = errors.New("store: chunk not generated")

	ErrShortRead = encoding.ErrShortRead
	ErrOverflow  = encoding.ErrOverflow
	ErrBadRun    = encoding.ErrBadRun
)

// Backend is a flat name -> blob store. Read returns ErrNotFound for missing names.
type Backend interface {
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
	Names() ([]string, error)
	Close() error
}

type Store struct {
	backend Backend
	dims    voxel.Dims
}

func New(b Backend, d voxel.Dims) *Store {
	return &Store{backend: b, dims: d}
}

func (s *Store) Backend() Backend { return s.backend }

func (s *Store) Dims() voxel.Dims { return s.dims }

const (
	namePrefix = "chunk_"
	nameSuffix = ".rle"
)

// Name is the storage name for k, e.g. chunk_-1_3.rle.
func Name(k chunk.Key) string {
	return fmt.Sprintf("%s%d_%d%s", namePrefix, k.CX, k.CZ, nameSuffix)
}

func ParseName(name string) (chunk.Key, bool) {
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) {
		return chunk.Key{}, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	xs, zs, ok := strings.Cut(body, "_")
	if !ok {
		return chunk.Key{}, false
	}
	cx, err1 := strconv.Atoi(xs)
	cz, err2 := strconv.Atoi(zs)
	if err1 != nil || err2 != nil {
		return chunk.Key{}, false
	}
	k := chunk.Key{CX: cx, CZ: cz}
	if Name(k) != name {
		return chunk.Key{}, false
	}
	return k, true
}

// Save encodes c's voxels and writes them under Name(c.Key()). It returns the encoded size.
func (s *Store) Save(c *chunk.Chunk) (int, error) {
	if c.NeedsGeneration() {
		return 0, fmt.Errorf("%w: %v", ErrNotGenerated, c.Key())
	}
	return s.Put(c.Key(), Encode(c.Voxels()))
}

// Encode returns the stored form of g.
func Encode(g *voxel.Grid) []byte {
	return encoding.AppendRLE(nil, g.Cells())
}

// Put writes bytes produced by Encode under Name(k) and returns their size.
func (s *Store) Put(k chunk.Key, data []byte) (int, error) {
	if err := s.backend.Write(Name(k), data); err != nil {
		return 0, fmt.Errorf("store: save %v: %w", k, err)
	}
	return len(data), nil
}

// Load decodes the saved chunk k into grid. On error grid is left untouched.
func (s *Store) Load(k chunk.Key, grid *voxel.Grid) error {
	data, err := s.backend.Read(Name(k))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("store: load %v: %w", k, err)
	}
	cells := make([]voxel.Type, s.dims.Volume())
	if err := encoding.DecodeRLE(bytes.NewReader(data), cells); err != nil {
		return fmt.Errorf("store: load %v: %w", k, err)
	}
	return grid.CopyFrom(cells)
}

// ReadRaw returns the encoded bytes saved for k.
func (s *Store) ReadRaw(k chunk.Key) ([]byte, error) {
	data, err := s.backend.Read(Name(k))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("store: read %v: %w", k, err)
	}
	return data, err
}

// WriteRaw stores already encoded bytes for k after checking that they decode to
// exactly one chunk volume.
func (s *Store) WriteRaw(k chunk.Key, data []byte) error {
	cells := make([]voxel.Type, s.dims.Volume())
	if err := encoding.DecodeRLE(bytes.NewReader(data), cells); err != nil {
		return fmt.Errorf("store: write %v: %w", k, err)
	}
	if err := s.backend.Write(Name(k), data); err != nil {
		return fmt.Errorf("store: write %v: %w", k, err)
	}
	return nil
}

// Keys lists every saved chunk, sorted by CX then CZ.
func (s *Store) Keys() ([]chunk.Key, error) {
	names, err := s.backend.Names()
	if err != nil {
		return nil, err
	}
	keys := make([]chunk.Key, 0, len(names))
	for _, n := range names {
		if k, ok := ParseName(n); ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys, nil
}

func (s *Store) Close() error { return s.backend.Close() }
