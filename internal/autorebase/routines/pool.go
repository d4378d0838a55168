// Package routines provides a pool of go-routines that execute queued
// functions.
package routines

import (
	"sync"
)

// Pool executes queued functions concurrently by a fixed number of
// go-routines.
// Functions are queued in an unbounded FIFO queue, Queue never blocks.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool

	wg sync.WaitGroup
}

// NewPool creates a pool and starts workers go-routines.
func NewPool(workers int) *Pool {
	if workers < 1 {
		panic("workers must be >=1")
	}

	p := Pool{}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return &p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}

		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}

		fn := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		fn()
	}
}

// Queue schedules fn for execution.
// Queue panics when it is called after Wait().
func (p *Pool) Queue(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		panic("Queue called after Wait")
	}

	p.queue = append(p.queue, fn)
	p.cond.Signal()
}

// TryQueue schedules fn for execution, if Wait() was not called yet.
// It returns false when fn was not queued.
func (p *Pool) TryQueue(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return false
	}

	p.queue = append(p.queue, fn)
	p.cond.Signal()

	return true
}

// Len returns the number of queued functions that are not executed yet.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queue)
}

// Wait waits until all queued functions were executed and terminates the
// workers.
func (p *Pool) Wait() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}
