package browser

import (
	"context"
	"fmt"
	"sync"
)

// Executor runs submitted functions one at a time on a dedicated goroutine.
// Drivers are not goroutine safe, so every call into a driver goes through here.
type Executor struct {
	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewExecutor() *Executor {
	e := &Executor{
		tasks: make(chan func()),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer close(e.done)
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.quit:
			return
		}
	}
}

// Do runs fn on the worker and waits for it. If ctx ends first Do returns
// ctx.Err() while fn keeps running to completion on the worker.
func (e *Executor) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result := make(chan error, 1)
	task := func() {
		defer func() {
			if p := recover(); p != nil {
				result <- fmt.Errorf("driver panic: %v", p)
			}
		}()
		result <- fn()
	}

	select {
	case e.tasks <- task:
	case <-e.quit:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker after the task in flight, if any, returns.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
	})
}

// Done is closed once the worker goroutine has exited.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}
