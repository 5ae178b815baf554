package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
)

func TestStoppableWorkers(t *testing.T) {
	var started atomic.Int32
	workers := NewStoppableWorkers(func(ctx context.Context) {
		started.Add(1)
		<-ctx.Done()
	})
	workers.AddWorkers(func(ctx context.Context) {
		started.Add(1)
		<-ctx.Done()
	})

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, started.Load(), test.ShouldEqual, 2)
	})

	workers.Stop()
	test.That(t, workers.Context().Err(), test.ShouldNotBeNil)

	// Adding after Stop is a no-op.
	workers.AddWorkers(func(ctx context.Context) { started.Add(1) })
	test.That(t, started.Load(), test.ShouldEqual, 2)
}

func TestTickerWorkers(t *testing.T) {
	mockClock := clock.NewMock()
	var calls atomic.Int32
	workers := NewStoppableWorkersWithClock(mockClock)
	workers.AddTickerWorkers(time.Second, func(ctx context.Context) {
		calls.Add(1)
	})

	mockClock.Add(500 * time.Millisecond)
	test.That(t, calls.Load(), test.ShouldEqual, 0)

	mockClock.Add(500 * time.Millisecond)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, calls.Load(), test.ShouldEqual, 1)
	})

	mockClock.Add(time.Second)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, calls.Load(), test.ShouldEqual, 2)
	})

	workers.Stop()
	mockClock.Add(10 * time.Second)
	test.That(t, calls.Load(), test.ShouldEqual, 2)

	workers.AddTickerWorkers(time.Second, func(ctx context.Context) { calls.Add(1) })
	mockClock.Add(time.Second)
	test.That(t, calls.Load(), test.ShouldEqual, 2)
}
