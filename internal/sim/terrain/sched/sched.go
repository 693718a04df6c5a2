// Package sched decides which chunks around the viewer need generating and runs
// the generation tasks off the caller's goroutine.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voxelterrain.dev/internal/sim/terrain/chunk"
)

// Work fills, meshes and finishes one NotGenerated chunk. A returned error sends
// the chunk back to NotGenerated, so Work must not fail after calling Finish.
type Work func(c *chunk.Chunk) error

type Scheduler struct {
	cache *chunk.Cache
	queue *TaskQueue
	work  Work
	log   *log.Logger

	mu     sync.Mutex
	radius int
	viewer chunk.Key
	live   []chunk.Key

	workers atomic.Int32
}

func New(cache *chunk.Cache, work Work, radius int, logger *log.Logger) *Scheduler {
	if radius < 0 {
		radius = 0
	}
	return &Scheduler{
		cache:  cache,
		queue:  NewTaskQueue(),
		work:   work,
		log:    logger,
		radius: radius,
	}
}

// Update recomputes the live set around viewer, queues every live chunk that still
// needs generation and is not already queued, and starts a worker when anything was
// queued. The returned burst completes when all of its tasks have run.
func (s *Scheduler) Update(viewer chunk.Key) *Burst {
	s.mu.Lock()
	radius := s.radius
	s.mu.Unlock()

	keys := Spiral(viewer, radius)
	b := newBurst(viewer)
	for _, k := range keys {
		c := s.cache.GetOrCreate(k)
		if !c.NeedsGeneration() || !c.MarkQueued() {
			continue
		}
		c.ResetState()
		b.add()
		s.queue.Push(s.task(b, c))
	}

	s.mu.Lock()
	s.viewer = viewer
	s.live = keys
	s.mu.Unlock()

	b.seal()
	if b.Enqueued() > 0 {
		s.workers.Add(1)
		go s.runWorker()
	}
	return b
}

func (s *Scheduler) task(b *Burst, c *chunk.Chunk) Task {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("chunk %v: panic: %v", c.Key(), r)
			}
			if err != nil {
				c.Abort()
			}
			b.complete(err)
		}()
		if err := s.work(c); err != nil {
			return fmt.Errorf("chunk %v: %w", c.Key(), err)
		}
		return nil
	}
}

func (s *Scheduler) runWorker() {
	defer s.workers.Add(-1)
	n := s.queue.Drain(func(err error) {
		if s.log != nil {
			s.log.Printf("generate: %v", err)
		}
	})
	if s.log != nil && n > 0 {
		s.log.Printf("worker drained %d tasks", n)
	}
}

// Live returns the keys of the current live set, innermost ring first.
func (s *Scheduler) Live() []chunk.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chunk.Key, len(s.live))
	copy(out, s.live)
	return out
}

func (s *Scheduler) Viewer() chunk.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewer
}

func (s *Scheduler) Radius() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.radius
}

// SetRadius takes effect on the next Update.
func (s *Scheduler) SetRadius(r int) {
	if r < 0 {
		r = 0
	}
	s.mu.Lock()
	s.radius = r
	s.mu.Unlock()
}

func (s *Scheduler) Pending() int { return s.queue.Len() }

func (s *Scheduler) Workers() int { return int(s.workers.Load()) }

// Burst tracks the tasks queued by one Update call.
type Burst struct {
	ID      string
	Viewer  chunk.Key
	Started time.Time

	mu       sync.Mutex
	enqueued int
	pending  int
	ran      int
	errs     []error
	sealed   bool
	finished time.Time
	done     chan struct{}
}

func newBurst(viewer chunk.Key) *Burst {
	return &Burst{
		ID:      uuid.NewString(),
		Viewer:  viewer,
		Started: time.Now(),
		done:    make(chan struct{}),
	}
}

func (b *Burst) add() {
	b.mu.Lock()
	b.enqueued++
	b.pending++
	b.mu.Unlock()
}

// seal marks the end of enqueueing; the burst can only finish after it.
func (b *Burst) seal() {
	b.mu.Lock()
	b.sealed = true
	b.maybeFinishLocked()
	b.mu.Unlock()
}

func (b *Burst) complete(err error) {
	b.mu.Lock()
	b.pending--
	b.ran++
	if err != nil {
		b.errs = append(b.errs, err)
	}
	b.maybeFinishLocked()
	b.mu.Unlock()
}

func (b *Burst) maybeFinishLocked() {
	if b.sealed && b.pending == 0 && b.finished.IsZero() {
		b.finished = time.Now()
		close(b.done)
	}
}

func (b *Burst) Done() <-chan struct{} { return b.done }

func (b *Burst) Enqueued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enqueued
}

// Wait blocks until every task of the burst has run or ctx ends. It returns the
// joined task errors.
func (b *Burst) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err is nil until the burst is done.
func (b *Burst) Err() error {
	select {
	case <-b.done:
	default:
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.errs...)
}

type BurstStats struct {
	ID       string
	Viewer   chunk.Key
	Enqueued int
	Ran      int
	Failed   int
	Done     bool
	Duration time.Duration
}

func (b *Burst) Stats() BurstStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BurstStats{
		ID:       b.ID,
		Viewer:   b.Viewer,
		Enqueued: b.enqueued,
		Ran:      b.ran,
		Failed:   len(b.errs),
		Done:     !b.finished.IsZero(),
	}
	if st.Done {
		st.Duration = b.finished.Sub(b.Started)
	} else {
		st.Duration = time.Since(b.Started)
	}
	return st
}
