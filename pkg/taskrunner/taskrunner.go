// Package taskrunner serializes tasks onto a single dedicated goroutine.
//
// All state touched only from tasks needs no further locking. Tasks are run
// in posting order. A task may post further tasks but must not wait on them.
package taskrunner

import (
	"errors"
	"sync"
)

// ErrStopped is returned when posting to a runner that is not running.
var ErrStopped = errors.New("taskrunner: runner stopped")

// Task is a unit of work run on the runner goroutine.
type Task func()

type entry struct {
	fn   Task
	done chan struct{}
	last bool
}

// Runner is a single goroutine consuming an unbounded FIFO of tasks.
type Runner struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []entry
	started  bool
	stopping bool
	stopped  bool
	wg       sync.WaitGroup
}

// New creates a runner. Call Start before posting.
func New() *Runner {
	r := &Runner{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start spawns the runner goroutine. A runner can only be started once.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("taskrunner: already started")
	}
	r.started = true

	r.wg.Add(1)
	go r.loop()
	return nil
}

// Post queues fn without waiting. Returns ErrStopped if the runner is not accepting tasks.
func (r *Runner) Post(fn Task) error {
	return r.post(entry{fn: fn})
}

// PostAndWait queues fn and blocks until it has run.
// Must not be called from a task.
func (r *Runner) PostAndWait(fn Task) error {
	e := entry{fn: fn, done: make(chan struct{})}
	if err := r.post(e); err != nil {
		return err
	}
	<-e.done
	return nil
}

// Stop runs final after every task already queued and waits for the
// goroutine to exit. Tasks posted once Stop has been called are rejected
// with ErrStopped. final may be nil.
func (r *Runner) Stop(final Task) {
	r.mu.Lock()
	if !r.started || r.stopping {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.stopping = true
	r.queue = append(r.queue, entry{fn: final, last: true})
	r.cond.Signal()
	r.mu.Unlock()

	r.wg.Wait()
}

// Pending returns the number of queued tasks.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Runner) post(e entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.stopping || r.stopped {
		return ErrStopped
	}
	r.queue = append(r.queue, e)
	r.cond.Signal()
	return nil
}

func (r *Runner) loop() {
	defer r.wg.Done()

	for {
		r.mu.Lock()
		for len(r.queue) == 0 {
			r.cond.Wait()
		}
		e := r.queue[0]
		r.queue[0] = entry{}
		r.queue = r.queue[1:]
		r.mu.Unlock()

		if e.fn != nil {
			e.fn()
		}
		if e.done != nil {
			close(e.done)
		}

		if e.last {
			r.mu.Lock()
			r.queue = nil
			r.stopped = true
			r.mu.Unlock()
			return
		}
	}
}
