// Package workerpool runs tasks on a bounded number of goroutines and
// gathers every task's outcome without letting one failure affect another.
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work. A returned error marks only this task failed.
type Task func(ctx context.Context) error

// Handle is the outcome of a submitted task.
type Handle struct {
	Name string
	done chan struct{}
	err  error
}

// Wait blocks until the task has finished and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// PanicError is recorded for a task that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Failure names one failed task.
type Failure struct {
	Name string
	Err  error
}

// Summary aggregates the outcomes of every task submitted before Drain.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []Failure
}

type Pool struct {
	ctx context.Context
	g   errgroup.Group

	mu      sync.Mutex
	handles []*Handle
}

// New creates a pool running at most size tasks at once. Sizes below one
// are treated as one.
func New(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{ctx: ctx}
	p.g.SetLimit(size)
	return p
}

// Submit schedules task, blocking while every worker is busy.
func (p *Pool) Submit(name string, task Task) *Handle {
	h := &Handle{Name: name, done: make(chan struct{})}

	p.mu.Lock()
	p.handles = append(p.handles, h)
	p.mu.Unlock()

	p.g.Go(func() error {
		defer close(h.done)
		h.err = run(p.ctx, task)
		// Never fail the group: siblings keep running.
		return nil
	})
	return h
}

func run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}

// Drain waits for every submitted task to finish and summarizes them.
// Individual task errors are reported, never returned.
func (p *Pool) Drain() Summary {
	_ = p.g.Wait()

	p.mu.Lock()
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	s := Summary{Total: len(handles)}
	for _, h := range handles {
		if h.err != nil {
			s.Failed++
			s.Failures = append(s.Failures, Failure{Name: h.Name, Err: h.err})
			continue
		}
		s.Succeeded++
	}
	return s
}
