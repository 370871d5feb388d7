// Package workerpool runs tasks on a fixed set of goroutines fed by a bounded
// FIFO queue.
//
// Submission never blocks: when the queue is at capacity Submit fails with
// ErrQueueFull and the caller decides what to do with the rejected task. This
// keeps the submitting goroutine (the reactor) free of back-pressure stalls.
//
// Hand-off uses a mutex-protected ring plus a counting signal channel: every
// successful Submit deposits exactly one token, and a worker consumes one
// token before popping exactly one task. A task therefore runs on exactly one
// worker, and each worker finishes its task before taking the next.
package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
)

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("workerpool: task queue full")

	// ErrPoolStopped is returned by Submit after Stop.
	ErrPoolStopped = errors.New("workerpool: pool stopped")
)

// Task is a unit of work executed by one worker.
type Task interface {
	Process()
}

// TaskFunc adapts a function to Task.
type TaskFunc func()

func (f TaskFunc) Process() { f() }

// PanicHandler is invoked on the worker goroutine when a task panics. The
// worker survives and continues with the next task.
type PanicHandler func(task Task, recovered any)

// Option configures a Pool.
type Option func(*Pool)

// WithPanicHandler installs a handler for panicking tasks.
func WithPanicHandler(h PanicHandler) Option {
	return func(p *Pool) {
		p.onPanic = h
	}
}

// Pool is a fixed set of workers consuming a bounded FIFO of tasks.
type Pool struct {
	mu    sync.Mutex
	ring  []Task
	head  int
	count int

	// ready carries one token per queued task.
	ready chan struct{}
	done  chan struct{}

	workers  int
	wg       conc.WaitGroup
	stopOnce sync.Once
	stopped  atomic.Bool

	onPanic PanicHandler

	processed atomic.Uint64
	rejected  atomic.Uint64
}

// New starts workers goroutines sharing a queue of the given capacity.
func New(workers, capacity int, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("workerpool: invalid worker count %d", workers)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("workerpool: invalid queue capacity %d", capacity)
	}

	p := &Pool{
		ring:    make([]Task, capacity),
		ready:   make(chan struct{}, capacity),
		done:    make(chan struct{}),
		workers: workers,
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workers; i++ {
		p.wg.Go(p.run)
	}
	return p, nil
}

// Submit appends task to the queue and wakes one worker. It fails
// immediately with ErrQueueFull when the queue is at capacity.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("workerpool: nil task")
	}

	p.mu.Lock()
	if p.stopped.Load() {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	if p.count == len(p.ring) {
		p.mu.Unlock()
		p.rejected.Add(1)
		return ErrQueueFull
	}

	tail := (p.head + p.count) % len(p.ring)
	p.ring[tail] = task
	p.count++
	p.mu.Unlock()

	// Never blocks: the channel has room for one token per ring slot.
	p.ready <- struct{}{}
	return nil
}

func (p *Pool) pop() Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == 0 {
		return nil
	}
	task := p.ring[p.head]
	p.ring[p.head] = nil
	p.head = (p.head + 1) % len(p.ring)
	p.count--
	return task
}

func (p *Pool) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ready:
		}

		task := p.pop()
		if task == nil {
			// Stop drained the queue between the token and the pop.
			continue
		}
		p.execute(task)
	}
}

func (p *Pool) execute(task Task) {
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(task, r)
		}
	}()

	task.Process()
	p.processed.Add(1)
}

// Stop prevents further submissions, waits for running tasks to finish and
// returns the tasks that were still queued, in FIFO order, so the caller can
// release whatever they hold. Stop is idempotent; later calls return nil.
func (p *Pool) Stop() []Task {
	var pending []Task

	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped.Store(true)
		close(p.done)
		p.mu.Unlock()

		p.wg.Wait()

		for task := p.pop(); task != nil; task = p.pop() {
			pending = append(pending, task)
		}
	})
	return pending
}

// Len returns the number of queued tasks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Capacity returns the fixed queue capacity.
func (p *Pool) Capacity() int {
	return len(p.ring)
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Queued    int
	Processed uint64
	Rejected  uint64
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    p.Len(),
		Processed: p.processed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
