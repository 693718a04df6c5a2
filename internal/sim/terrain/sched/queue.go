package sched

import (
	"fmt"
	"runtime/debug"
	"sync"
)

type Task func() error

// TaskQueue is an unbounded FIFO of tasks. Tasks always run outside the lock.
type TaskQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	tasks []Task
}

func NewTaskQueue() *TaskQueue {
	q := &TaskQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *TaskQueue) Push(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until a task is available, runs it and returns its error.
func (q *TaskQueue) Pop() error {
	q.mu.Lock()
	for len(q.tasks) == 0 {
		q.cond.Wait()
	}
	t := q.take()
	q.mu.Unlock()
	return run(t)
}

// TryPop runs the head task if there is one.
func (q *TaskQueue) TryPop() (bool, error) {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return false, nil
	}
	t := q.take()
	q.mu.Unlock()
	return true, run(t)
}

// Drain runs tasks until the queue is empty, including any pushed meanwhile.
// It returns the number of tasks run.
func (q *TaskQueue) Drain(onErr func(error)) int {
	n := 0
	for {
		ok, err := q.TryPop()
		if !ok {
			return n
		}
		n++
		if err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// Clear drops all pending tasks and returns how many were dropped.
func (q *TaskQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	q.tasks = nil
	return n
}

func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *TaskQueue) Empty() bool { return q.Len() == 0 }

func (q *TaskQueue) take() Task {
	t := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return t
}

func run(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v\n%s", r, debug.Stack())
		}
	}()
	return t()
}
