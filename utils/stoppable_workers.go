// Package utils contains the goroutine lifecycle helpers shared by the transfer engine and the
// accumulator.
package utils

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"
)

// StoppableWorkers is a collection of goroutines that can be stopped at a later time.
type StoppableWorkers interface {
	AddWorkers(...func(context.Context))
	AddTickerWorkers(interval time.Duration, funcs ...func(context.Context))
	Stop()
	Context() context.Context
}

// stoppableWorkersImpl is the implementation of StoppableWorkers. The linter will complain if you
// try to make a copy of something that contains a sync.WaitGroup, so we do everything through the
// StoppableWorkers interface to avoid making copies.
type stoppableWorkersImpl struct {
	mu                      sync.Mutex
	clock                   clock.Clock
	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewStoppableWorkers runs the functions in separate goroutines. They can be stopped later.
func NewStoppableWorkers(funcs ...func(context.Context)) StoppableWorkers {
	return NewStoppableWorkersWithClock(clock.New(), funcs...)
}

// NewStoppableWorkersWithClock is like NewStoppableWorkers, but ticker workers added later are
// scheduled on the given clock. Tests pass a *clock.Mock here.
func NewStoppableWorkersWithClock(clk clock.Clock, funcs ...func(context.Context)) StoppableWorkers {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	workers := &stoppableWorkersImpl{clock: clk, cancelCtx: cancelCtx, cancelFunc: cancelFunc}
	workers.AddWorkers(funcs...)
	return workers
}

// AddWorkers starts up additional goroutines for each function passed in. If you call this after
// calling Stop(), it will return immediately without starting any new goroutines.
func (sw *stoppableWorkersImpl) AddWorkers(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil {
		return
	}

	sw.activeBackgroundWorkers.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.activeBackgroundWorkers.Done()
			f(sw.cancelCtx)
		})
	}
}

// AddTickerWorkers starts one goroutine per function that calls it once every interval until the
// workers are stopped. The ticker is registered with the clock before this returns, so a mock
// clock advanced right after the call fires it. Calls after Stop() are ignored.
func (sw *stoppableWorkersImpl) AddTickerWorkers(interval time.Duration, funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.cancelCtx.Err() != nil {
		return
	}

	sw.activeBackgroundWorkers.Add(len(funcs))
	for _, f := range funcs {
		ticker := sw.clock.Ticker(interval)
		goutils.PanicCapturingGo(func() {
			defer sw.activeBackgroundWorkers.Done()
			defer ticker.Stop()
			runTicker(sw.cancelCtx, ticker, f)
		})
	}
}

// Stop shuts down all the goroutines we started up.
func (sw *stoppableWorkersImpl) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cancelFunc()
	sw.activeBackgroundWorkers.Wait()
}

// Context gets the context the workers are checking on. Using this function is expected to be
// rare: usually you shouldn't need to interact with the context directly.
func (sw *stoppableWorkersImpl) Context() context.Context {
	return sw.cancelCtx
}
