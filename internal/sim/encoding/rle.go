// Package encoding holds the on-disk chunk codec.
//
// A chunk is a headerless sequence of run-length pairs, each a little-endian uint32
// count followed by one voxel code byte, in grid index order. The counts sum to
// exactly the grid volume.
package encoding

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"voxelterrain.dev/internal/sim/terrain/voxel"
)

const pairSize = 5

var (
	ErrShortRead = errors.New("rle: stream ended before grid was filled")
	ErrOverflow  = errors.New("rle: runs exceed grid volume")
	ErrBadRun    = errors.New("rle: zero-length run")
)

// AppendRLE appends the encoding of cells to dst.
func AppendRLE(dst []byte, cells []voxel.Type) []byte {
	var tmp [pairSize]byte
	i := 0
	for i < len(cells) {
		v := cells[i]
		run := 1
		for j := i + 1; j < len(cells) && cells[j] == v && run < 1<<32-1; j++ {
			run++
		}
		binary.LittleEndian.PutUint32(tmp[:4], uint32(run))
		tmp[4] = byte(v)
		dst = append(dst, tmp[:]...)
		i += run
	}
	return dst
}

func EncodeRLE(w io.Writer, cells []voxel.Type) error {
	_, err := w.Write(AppendRLE(nil, cells))
	return err
}

// DecodeRLE fills dst completely from r. It fails on a partial pair, on a stream that
// ends early, and on runs (or trailing bytes) past len(dst).
func DecodeRLE(r io.Reader, dst []voxel.Type) error {
	br := bufio.NewReader(r)
	var tmp [pairSize]byte
	filled := 0
	for filled < len(dst) {
		if _, err := io.ReadFull(br, tmp[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: %d of %d voxels", ErrShortRead, filled, len(dst))
			}
			return err
		}
		run := int(binary.LittleEndian.Uint32(tmp[:4]))
		if run == 0 {
			return fmt.Errorf("%w at voxel %d", ErrBadRun, filled)
		}
		if run > len(dst)-filled {
			return fmt.Errorf("%w: run of %d at voxel %d, volume %d", ErrOverflow, run, filled, len(dst))
		}
		v := voxel.Type(tmp[4])
		for k := 0; k < run; k++ {
			dst[filled+k] = v
		}
		filled += run
	}
	if _, err := br.ReadByte(); err == nil {
		return fmt.Errorf("%w: trailing data after %d voxels", ErrOverflow, filled)
	} else if !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
