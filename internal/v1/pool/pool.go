// Package pool provides a small bounded worker pool. Bots run their command,
// hook and message work on dedicated pools so one slow task cannot stall the
// scheduler loop.
package pool

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("pool: closed")

// Pool runs submitted tasks on a fixed set of goroutines. A task that
// panics is recovered and forwarded to the error callback.
type Pool struct {
	tasks   chan func() error
	onError func(error)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New starts a pool with the given number of workers. onError may be nil,
// in which case task errors are dropped.
func New(workers, backlog int, onError func(error)) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		tasks:   make(chan func() error, backlog),
		onError: onError,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func() error) {
	defer func() {
		if r := recover(); r != nil {
			p.report(&PanicError{Value: r})
		}
	}()
	if err := task(); err != nil {
		p.report(err)
	}
}

func (p *Pool) report(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}

// Submit queues a task, blocking while the backlog is full.
func (p *Pool) Submit(task func() error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	// Holding the lock while sending keeps Close from racing a send on a
	// closed channel.
	defer p.mu.Unlock()
	p.tasks <- task
	return nil
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// PanicError wraps a recovered panic value from a pool task.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return "pool: task panic: " + err.Error()
	}
	return "pool: task panic"
}
