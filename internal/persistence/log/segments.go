package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Segments are zstd-compressed JSON-lines files, one per UTC hour:
// <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst. Reopening an hour appends a new zstd
// frame to the same file.
const (
	segmentLayout = "2006-01-02-15"
	segmentSuffix = ".jsonl.zst"
)

func SegmentPath(dir, prefix string, t time.Time) string {
	return filepath.Join(dir, prefix+"-"+t.UTC().Format(segmentLayout)+segmentSuffix)
}

// Segments lists the segment files for prefix in dir, oldest first.
func Segments(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// ScanSegment calls fn with every line of the segment at path. fn must not retain line.
func ScanSegment(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), n, err)
		}
	}
	return sc.Err()
}

type segment struct {
	hour string
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func (s *segment) close() error {
	return errors.Join(s.buf.Flush(), s.enc.Close(), s.f.Close())
}

// SegmentWriter appends values as JSON lines to the current hour's segment and
// flushes after every line, so a crash loses at most the line being written.
type SegmentWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu    sync.Mutex
	cur   *segment
	lines uint64
}

func NewSegmentWriter(dir, prefix string) *SegmentWriter {
	return &SegmentWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *SegmentWriter) Append(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if hour := now.UTC().Format(segmentLayout); w.cur == nil || w.cur.hour != hour {
		if err := w.openLocked(now, hour); err != nil {
			return err
		}
	}
	if _, err := w.cur.buf.Write(append(b, '\n')); err != nil {
		return err
	}
	if err := w.cur.buf.Flush(); err != nil {
		return err
	}
	w.lines++
	return nil
}

// Lines is the number of lines appended since the writer was created.
func (w *SegmentWriter) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return nil
	}
	err := w.cur.close()
	w.cur = nil
	return err
}

func (w *SegmentWriter) openLocked(now time.Time, hour string) error {
	if w.cur != nil {
		err := w.cur.close()
		w.cur = nil
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(SegmentPath(w.dir, w.prefix, now), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.cur = &segment{hour: hour, f: f, enc: enc, buf: bufio.NewWriterSize(enc, 128*1024)}
	return nil
}
