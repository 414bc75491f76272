// Package pool provides a fixed-size set of long-lived workers for
// fork/join phases. Every phase hands exactly one job to every worker and
// returns only after all of them have reported back.
package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrClosed is returned when a phase is submitted to a closed pool.
	ErrClosed = errors.New("pool: closed")

	// ErrJobPanicked is returned when a job panics instead of returning.
	ErrJobPanicked = errors.New("pool: job panicked")
)

// Pool owns Size() worker goroutines for its whole lifetime. A Pool may be
// shared between callers; phases submitted concurrently run one after the
// other.
type Pool struct {
	size int
	jobs []chan func()
	wg   sync.WaitGroup

	phase  sync.Mutex // held for the duration of one phase and by Close
	closed bool
}

// New starts a pool with size workers. Sizes below 1 are raised to 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size: size,
		jobs: make([]chan func(), size),
	}
	p.wg.Add(size)
	for i := range p.jobs {
		ch := make(chan func())
		p.jobs[i] = ch
		go p.work(ch)
	}
	slog.Debug("pool: started", "workers", size)
	return p
}

func (p *Pool) work(ch <-chan func()) {
	defer p.wg.Done()
	for job := range ch {
		job()
	}
}

// Size returns the number of workers, which is also the number of jobs
// every phase runs.
func (p *Pool) Size() int {
	return p.size
}

// Close stops accepting phases and joins every worker. It waits for a
// running phase to finish first. Calling Close twice is a no-op.
func (p *Pool) Close() {
	p.phase.Lock()
	defer p.phase.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.jobs {
		close(ch)
	}
	p.wg.Wait()
	slog.Debug("pool: stopped", "workers", p.size)
}

type tagged[T any] struct {
	id  int
	val T
	err error
}

// Run executes job(id) once on every worker, id in [0, p.Size()), and
// returns the results indexed by id. Completion order does not matter:
// every result is tagged with its worker id and placed by that tag.
//
// All jobs run to completion even when some fail. If any job returned an
// error (or panicked), Run returns the error of the lowest worker id and
// no results.
func Run[T any](p *Pool, job func(id int) (T, error)) ([]T, error) {
	p.phase.Lock()
	defer p.phase.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	done := make(chan tagged[T], p.size)
	for id, ch := range p.jobs {
		ch <- func() {
			var r tagged[T]
			r.id = id
			defer func() {
				if v := recover(); v != nil {
					r.err = fmt.Errorf("%w: worker %d: %v", ErrJobPanicked, id, v)
				}
				done <- r
			}()
			r.val, r.err = job(id)
		}
	}

	results := make([]T, p.size)
	errs := make([]error, p.size)
	for range p.size {
		r := <-done
		results[r.id] = r.val
		errs[r.id] = r.err
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
