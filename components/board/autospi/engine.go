package autospi

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"

	"go.viam.com/spiaccum/components/board/genericlinux/buses"
	"go.viam.com/spiaccum/logging"
	"go.viam.com/spiaccum/utils"
)

// triggerPollInterval bounds how long a trigger worker waits for an edge before checking
// whether it was stopped.
const triggerPollInterval = 100 * time.Millisecond

// repeatedErrorReminder is how many identical consecutive transfer failures pass between two
// error logs.
const repeatedErrorReminder = 1000

// EngineConfig describes how the engine talks to its device.
type EngineConfig struct {
	ChipSelect string `json:"chip_select" mapstructure:"chip_select"`
	Baud       uint   `json:"baud" mapstructure:"baud"`
	Mode       uint   `json:"mode" mapstructure:"mode"`
}

// Validate ensures all parts of the config are valid.
func (cfg *EngineConfig) Validate(path string) error {
	if cfg.ChipSelect == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "chip_select")
	}
	if cfg.Mode > 3 {
		return goutils.NewConfigValidationError(path, errors.Errorf("mode must be between 0 and 3, got %d", cfg.Mode))
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for transfer scheduling and timestamps.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) {
		e.clock = clk
	}
}

// Engine is a Source that fills its buffer by transferring a fixed command frame over an SPI
// bus. Transfers run on a background worker once started; received words are drained with Read.
type Engine struct {
	bus    buses.SPI
	cfg    EngineConfig
	logger logging.Logger
	clock  clock.Clock

	// transferMu is held for a whole transfer so words enter the ring in timestamp order.
	transferMu sync.Mutex

	mu        sync.Mutex
	ring      *Ring
	epoch     time.Time
	tx        []byte
	workers   utils.StoppableWorkers
	lastErr   error
	errRepeat int

	ready chan struct{}
	// freed is closed, then replaced, every time the buffer is released.
	freed chan struct{}
}

var _ Source = (*Engine)(nil)

// NewEngine returns an engine for the given bus. It does nothing until Init and a Start call.
func NewEngine(bus buses.SPI, cfg EngineConfig, logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		bus:    bus,
		cfg:    cfg,
		logger: logger,
		clock:  clock.New(),
		ready:  make(chan struct{}, 1),
		freed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init allocates a buffer of bufferWords words and zeroes the timestamp counter.
func (e *Engine) Init(bufferWords int) error {
	if bufferWords <= 0 {
		return errors.Errorf("buffer size must be positive, got %d", bufferWords)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ring != nil {
		return errors.New("automatic SPI transfer engine is already initialized")
	}
	e.ring = NewRing(bufferWords)
	e.epoch = e.clock.Now()
	return nil
}

// SetTransmitData sets the frame sent on every transfer: data followed by zeroSize zero bytes.
// Each transfer then produces 1+len(data)+zeroSize words.
func (e *Engine) SetTransmitData(data []byte, zeroSize int) error {
	if len(data) > MaxTransmitBytes {
		return errors.Errorf("transmit data is %d bytes, at most %d allowed", len(data), MaxTransmitBytes)
	}
	if zeroSize < 0 || zeroSize > MaxZeroBytes {
		return errors.Errorf("zero size must be between 0 and %d, got %d", MaxZeroBytes, zeroSize)
	}
	tx := make([]byte, len(data)+zeroSize)
	copy(tx, data)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tx = tx
	return nil
}

// StartRate starts transferring once every period.
func (e *Engine) StartRate(period time.Duration) error {
	if period <= 0 {
		return errors.Errorf("transfer period must be positive, got %s", period)
	}
	workers, err := e.startWorkers()
	if err != nil {
		return err
	}
	e.logger.Debugw("starting periodic automatic transfers", "period", period)
	workers.AddTickerWorkers(period, func(ctx context.Context) {
		//nolint:errcheck
		e.transfer(ctx)
	})
	return nil
}

// StartTrigger starts transferring on the selected edges of pin.
func (e *Engine) StartTrigger(pin gpio.PinIn, rising, falling bool) error {
	var edge gpio.Edge
	switch {
	case rising && falling:
		edge = gpio.BothEdges
	case rising:
		edge = gpio.RisingEdge
	case falling:
		edge = gpio.FallingEdge
	default:
		return errors.New("at least one of rising or falling edge must be selected")
	}
	if err := pin.In(gpio.PullNoChange, edge); err != nil {
		return errors.Wrapf(err, "configuring trigger pin %s", pin)
	}
	workers, err := e.startWorkers()
	if err != nil {
		return err
	}
	e.logger.Debugw("starting triggered automatic transfers", "pin", pin.String(), "rising", rising, "falling", falling)
	workers.AddWorkers(func(ctx context.Context) {
		for ctx.Err() == nil {
			if pin.WaitForEdge(triggerPollInterval) {
				//nolint:errcheck
				e.transfer(ctx)
			}
		}
	})
	return nil
}

func (e *Engine) startWorkers() (utils.StoppableWorkers, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ring == nil {
		return nil, ErrNotInitialized
	}
	if len(e.tx) == 0 {
		return nil, ErrNoTransmitData
	}
	if e.workers != nil {
		return nil, ErrAlreadyRunning
	}
	e.workers = utils.NewStoppableWorkersWithClock(e.clock)
	return e.workers, nil
}

// Stop stops transferring. Buffered words stay readable.
func (e *Engine) Stop() {
	e.mu.Lock()
	workers := e.workers
	e.workers = nil
	e.mu.Unlock()

	// Stop outside the lock: a worker in the middle of a transfer needs it to finish.
	if workers != nil {
		workers.Stop()
	}
}

// ForceRead performs a single transfer immediately.
func (e *Engine) ForceRead(ctx context.Context) error {
	return e.transfer(ctx)
}

func (e *Engine) transfer(ctx context.Context) (err error) {
	e.transferMu.Lock()
	defer e.transferMu.Unlock()

	e.mu.Lock()
	if e.ring == nil {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if len(e.tx) == 0 {
		e.mu.Unlock()
		return ErrNoTransmitData
	}
	tx := e.tx
	e.mu.Unlock()

	defer func() {
		e.noteTransferResult(ctx, err)
	}()

	handle, err := e.bus.OpenHandle()
	if err != nil {
		return err
	}
	e.mu.Lock()
	timestamp := e.timestampLocked()
	e.mu.Unlock()
	rx, err := handle.Xfer(ctx, e.cfg.Baud, e.cfg.ChipSelect, e.cfg.Mode, tx)
	err = multierr.Combine(err, handle.Close())
	if err != nil {
		return err
	}

	words := make([]uint32, 1, 1+len(rx))
	words[0] = timestamp
	for _, b := range rx {
		words = append(words, uint32(b))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ring == nil {
		return ErrNotInitialized
	}
	if e.ring.Push(words...) {
		select {
		case e.ready <- struct{}{}:
		default:
		}
	}
	return nil
}

// timestampLocked returns microseconds since Init, wrapping at 2^32.
func (e *Engine) timestampLocked() uint32 {
	return uint32(e.clock.Since(e.epoch) / time.Microsecond)
}

// noteTransferResult logs transfer failures without flooding: the first failure of a kind is a
// warning, identical repeats are only reported every repeatedErrorReminder occurrences.
func (e *Engine) noteTransferResult(ctx context.Context, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		if e.lastErr != nil {
			e.logger.CInfow(ctx, "automatic transfers recovered", "failures", e.errRepeat+1)
		}
		e.lastErr = nil
		e.errRepeat = 0
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	if e.lastErr != nil && e.lastErr.Error() == err.Error() {
		e.errRepeat++
		if e.errRepeat%repeatedErrorReminder == 0 {
			e.logger.CErrorw(ctx, "automatic transfer still failing", "error", err, "repeats", e.errRepeat)
		}
		return
	}
	e.logger.CWarnw(ctx, "automatic transfer failed", "error", err)
	e.lastErr = err
	e.errRepeat = 0
}

// Available returns the number of buffered words.
func (e *Engine) Available() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ring == nil {
		return 0
	}
	return e.ring.Len()
}

// Read drains up to len(dst) buffered words without blocking.
func (e *Engine) Read(dst []uint32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ring == nil {
		return 0
	}
	return e.ring.Pop(dst)
}

// ReadContext fills dst, waiting for transfers as needed, until dst is full or ctx is done. It
// returns the number of words read.
func (e *Engine) ReadContext(ctx context.Context, dst []uint32) (int, error) {
	n := 0
	for {
		e.mu.Lock()
		if e.ring == nil {
			e.mu.Unlock()
			return n, ErrNotInitialized
		}
		n += e.ring.Pop(dst[n:])
		freed := e.freed
		e.mu.Unlock()
		if n == len(dst) {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-e.ready:
		case <-freed:
		}
	}
}

// Dropped returns the number of words lost because the buffer was full.
func (e *Engine) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ring == nil {
		return 0
	}
	return e.ring.Dropped()
}

// Free stops transfers and releases the buffer. Blocked readers return ErrNotInitialized. The
// engine may be initialized again afterwards.
func (e *Engine) Free() error {
	e.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ring = nil
	e.tx = nil
	close(e.freed)
	e.freed = make(chan struct{})
	return nil
}
