package autospi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"go.viam.com/spiaccum/components/board/genericlinux/buses"
	"go.viam.com/spiaccum/logging"
	"go.viam.com/spiaccum/testutils/inject"
)

var (
	testCommand  = []byte{0x20, 0x00}
	testResponse = []byte{0x04, 0x00, 0x12, 0x34}
	testEngine   = EngineConfig{ChipSelect: "0", Baud: 500000, Mode: 0}
)

// fakeBus answers every transfer with testResponse and records what was sent.
type fakeBus struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (fb *fakeBus) injected() *inject.SPI {
	return &inject.SPI{
		OpenHandleFunc: func() (buses.SPIHandle, error) {
			return &inject.SPIHandle{
				XferFunc: func(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
					fb.mu.Lock()
					defer fb.mu.Unlock()
					fb.sent = append(fb.sent, append([]byte(nil), tx...))
					if fb.err != nil {
						return nil, fb.err
					}
					return append([]byte(nil), testResponse...), nil
				},
			}, nil
		},
	}
}

func (fb *fakeBus) setErr(err error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.err = err
}

func TestEngineConfigValidate(t *testing.T) {
	test.That(t, testEngine.Validate("path"), test.ShouldBeNil)

	conf := testEngine
	conf.ChipSelect = ""
	err := conf.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"chip_select" is required`)

	conf = testEngine
	conf.Mode = 4
	err = conf.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "mode must be between 0 and 3")
}

func TestEngineConfiguration(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := &fakeBus{}
	e := NewEngine(bus.injected(), testEngine, logger)

	test.That(t, e.Available(), test.ShouldEqual, 0)
	test.That(t, e.Read(make([]uint32, 4)), test.ShouldEqual, 0)
	test.That(t, e.Dropped(), test.ShouldEqual, 0)
	test.That(t, e.StartRate(time.Millisecond), test.ShouldEqual, ErrNotInitialized)
	test.That(t, e.ForceRead(context.Background()), test.ShouldEqual, ErrNotInitialized)

	test.That(t, e.Init(0), test.ShouldNotBeNil)
	test.That(t, e.Init(64), test.ShouldBeNil)
	test.That(t, e.Init(64), test.ShouldNotBeNil)

	test.That(t, e.StartRate(time.Millisecond), test.ShouldEqual, ErrNoTransmitData)
	test.That(t, e.SetTransmitData(make([]byte, MaxTransmitBytes+1), 0), test.ShouldNotBeNil)
	test.That(t, e.SetTransmitData(testCommand, MaxZeroBytes+1), test.ShouldNotBeNil)
	test.That(t, e.SetTransmitData(testCommand, -1), test.ShouldNotBeNil)
	test.That(t, e.SetTransmitData(testCommand, 2), test.ShouldBeNil)

	test.That(t, e.StartRate(0), test.ShouldNotBeNil)
	test.That(t, e.StartRate(time.Millisecond), test.ShouldBeNil)
	test.That(t, e.StartRate(time.Millisecond), test.ShouldEqual, ErrAlreadyRunning)
	test.That(t, e.Free(), test.ShouldBeNil)
}

func TestEnginePeriodicTransfers(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mockClock := clock.NewMock()
	bus := &fakeBus{}
	e := NewEngine(bus.injected(), testEngine, logger, WithClock(mockClock))
	defer func() {
		test.That(t, e.Free(), test.ShouldBeNil)
	}()

	test.That(t, e.Init(64), test.ShouldBeNil)
	test.That(t, e.SetTransmitData(testCommand, 2), test.ShouldBeNil)
	test.That(t, e.StartRate(time.Millisecond), test.ShouldBeNil)

	mockClock.Add(time.Millisecond)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, e.Available(), test.ShouldEqual, 5)
	})
	mockClock.Add(time.Millisecond)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, e.Available(), test.ShouldEqual, 10)
	})

	words := make([]uint32, 10)
	test.That(t, e.Read(words), test.ShouldEqual, 10)
	test.That(t, words, test.ShouldResemble, []uint32{
		1000, 0x04, 0x00, 0x12, 0x34,
		2000, 0x04, 0x00, 0x12, 0x34,
	})

	bus.mu.Lock()
	test.That(t, bus.sent[0], test.ShouldResemble, []byte{0x20, 0x00, 0x00, 0x00})
	bus.mu.Unlock()

	e.Stop()
	mockClock.Add(10 * time.Millisecond)
	test.That(t, e.Available(), test.ShouldEqual, 0)
}

func TestEngineTimestampWraps(t *testing.T) {
	mockClock := clock.NewMock()
	bus := &fakeBus{}
	e := NewEngine(bus.injected(), testEngine, logging.NewTestLogger(t), WithClock(mockClock))
	test.That(t, e.Init(16), test.ShouldBeNil)
	test.That(t, e.SetTransmitData(testCommand, 2), test.ShouldBeNil)

	// 2^32 µs plus 16 µs after Init.
	mockClock.Add((1<<32 + 16) * time.Microsecond)
	test.That(t, e.ForceRead(context.Background()), test.ShouldBeNil)

	words := make([]uint32, 5)
	test.That(t, e.Read(words), test.ShouldEqual, 5)
	test.That(t, words[0], test.ShouldEqual, 16)
}

func TestEngineOverflowDropsWholeTransfers(t *testing.T) {
	bus := &fakeBus{}
	e := NewEngine(bus.injected(), testEngine, logging.NewTestLogger(t))
	test.That(t, e.Init(8), test.ShouldBeNil)
	test.That(t, e.SetTransmitData(testCommand, 2), test.ShouldBeNil)

	test.That(t, e.ForceRead(context.Background()), test.ShouldBeNil)
	test.That(t, e.ForceRead(context.Background()), test.ShouldBeNil)
	test.That(t, e.Available(), test.ShouldEqual, 5)
	test.That(t, e.Dropped(), test.ShouldEqual, 5)
}

func TestEngineTransferErrors(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	bus := &fakeBus{}
	e := NewEngine(bus.injected(), testEngine, logger)
	test.That(t, e.Init(64), test.ShouldBeNil)
	test.That(t, e.SetTransmitData(testCommand, 2), test.ShouldBeNil)

	errBus := errors.New("bus fault")
	bus.setErr(errBus)
	for i := 0; i < 3; i++ {
		err := e.ForceRead(context.Background())
		test.That(t, errors.Is(err, errBus), test.ShouldBeTrue)
	}
	test.That(t, e.Available(), test.ShouldEqual, 0)
	test.That(t, logs.FilterMessage("automatic transfer failed").Len(), test.ShouldEqual, 1)

	bus.setErr(nil)
	test.That(t, e.ForceRead(context.Background()), test.ShouldBeNil)
	test.That(t, logs.FilterMessage("automatic transfers recovered").Len(), test.ShouldEqual, 1)
	test.That(t, e.Available(), test.ShouldEqual, 5)
}

func TestEngineTrigger(t *testing.T) {
	bus := &fakeBus{}
	e := NewEngine(bus.injected(), testEngine, logging.NewTestLogger(t))
	defer func() {
		test.That(t, e.Free(), test.ShouldBeNil)
	}()
	test.That(t, e.Init(64), test.ShouldBeNil)
	test.That(t, e.SetTransmitData(testCommand, 2), test.ShouldBeNil)

	pin := &gpiotest.Pin{N: "trigger", EdgesChan: make(chan gpio.Level, 1)}
	test.That(t, e.StartTrigger(pin, false, false), test.ShouldNotBeNil)
	test.That(t, e.StartTrigger(pin, true, false), test.ShouldBeNil)

	pin.EdgesChan <- gpio.High
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, e.Available(), test.ShouldEqual, 5)
	})
	pin.EdgesChan <- gpio.Low
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, e.Available(), test.ShouldEqual, 10)
	})
}

func TestEngineReadContext(t *testing.T) {
	bus := &fakeBus{}
	e := NewEngine(bus.injected(), testEngine, logging.NewTestLogger(t))
	test.That(t, e.Init(64), test.ShouldBeNil)
	test.That(t, e.SetTransmitData(testCommand, 2), test.ShouldBeNil)
	test.That(t, e.ForceRead(context.Background()), test.ShouldBeNil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		//nolint:errcheck
		e.ForceRead(context.Background())
	}()
	words := make([]uint32, 10)
	n, err := e.ReadContext(context.Background(), words)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n, err = e.ReadContext(ctx, words)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
	test.That(t, n, test.ShouldEqual, 0)

	test.That(t, e.Free(), test.ShouldBeNil)
	_, err = e.ReadContext(context.Background(), words)
	test.That(t, err, test.ShouldEqual, ErrNotInitialized)
	test.That(t, e.ForceRead(context.Background()), test.ShouldEqual, ErrNotInitialized)

	// A freed engine can be set up again.
	test.That(t, e.Init(16), test.ShouldBeNil)
}

func TestEngineTransfersKeepTimestampOrder(t *testing.T) {
	ctx := context.Background()
	mockClock := clock.NewMock()
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	var calls atomic.Int32
	bus := &inject.SPI{
		OpenHandleFunc: func() (buses.SPIHandle, error) {
			return &inject.SPIHandle{
				XferFunc: func(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) ([]byte, error) {
					entered <- struct{}{}
					if calls.Inc() == 1 {
						<-release
					}
					return append([]byte(nil), testResponse...), nil
				},
			}, nil
		},
	}
	e := NewEngine(bus, testEngine, logging.NewTestLogger(t), WithClock(mockClock))
	test.That(t, e.Init(64), test.ShouldBeNil)
	test.That(t, e.SetTransmitData(testCommand, 2), test.ShouldBeNil)

	first := make(chan error, 1)
	go func() {
		first <- e.ForceRead(ctx)
	}()
	<-entered

	mockClock.Add(100 * time.Microsecond)
	second := make(chan error, 1)
	go func() {
		second <- e.ForceRead(ctx)
	}()
	select {
	case <-entered:
		t.Fatal("second transfer started before the first finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	test.That(t, <-first, test.ShouldBeNil)
	test.That(t, <-second, test.ShouldBeNil)

	words := make([]uint32, 10)
	test.That(t, e.Read(words), test.ShouldEqual, 10)
	test.That(t, words[0], test.ShouldEqual, 0)
	test.That(t, words[5], test.ShouldEqual, 100)
}

func TestEngineFreeWakesReaders(t *testing.T) {
	bus := &fakeBus{}
	e := NewEngine(bus.injected(), testEngine, logging.NewTestLogger(t))
	test.That(t, e.Init(64), test.ShouldBeNil)

	readErr := make(chan error, 1)
	go func() {
		_, err := e.ReadContext(context.Background(), make([]uint32, 5))
		readErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	test.That(t, e.Free(), test.ShouldBeNil)
	select {
	case err := <-readErr:
		test.That(t, err, test.ShouldEqual, ErrNotInitialized)
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after Free")
	}
}
