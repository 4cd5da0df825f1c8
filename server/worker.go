package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/moonshine/pkg/driver"
)

// request is a unit of work to be executed on the worker goroutine.
type request struct {
	fn   func(*driver.Driver) (any, error)
	done chan result
}

// result holds the return value from a driver operation.
type result struct {
	value any
	err   error
}

// Worker serializes compilation and execution through a single goroutine,
// so the server runs at most one program at a time no matter how many
// requests arrive.
type Worker struct {
	driver   *driver.Driver
	requests chan request
	quit     chan struct{}
	stop     sync.Once
}

var errStopped = errors.New("worker stopped")

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(d *driver.Driver) *Worker {
	w := &Worker{
		driver:   d,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *Worker) execute(fn func(*driver.Driver) (any, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("%v", r)
		}
	}()
	res.value, res.err = fn(w.driver)
	return res
}

// Do submits fn for execution on the worker goroutine and blocks until it
// completes or ctx is done. Work already queued still runs after ctx ends;
// fn should watch ctx itself if it can take long.
func (w *Worker) Do(ctx context.Context, fn func(*driver.Driver) (any, error)) (any, error) {
	select {
	case <-w.quit:
		return nil, errStopped
	default:
	}

	req := request{
		fn:   fn,
		done: make(chan result, 1),
	}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, errStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		// loop may have exited with req still queued.
		return nil, errStopped
	}
}

// Stop shuts down the worker goroutine. Callers waiting in Do return
// errStopped, even if their work was queued but never run.
func (w *Worker) Stop() {
	w.stop.Do(func() { close(w.quit) })
}

// Driver returns the driver for work that needs no serialization, such as
// reading its configuration.
func (w *Worker) Driver() *driver.Driver {
	return w.driver
}
