// Package accumulator folds the responses collected by an automatic SPI transfer source into
// running totals: a sum and count of samples, the last sample, and a time integral.
package accumulator

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/spiaccum/components/board/autospi"
	"go.viam.com/spiaccum/logging"
	"go.viam.com/spiaccum/utils"
)

const (
	// batchTransactions is the most transactions folded per drain pass.
	batchTransactions = 2048
	// pollRatio is how many transfer periods pass between two background drains.
	pollRatio = 1024
)

var (
	// ErrClosed is returned by every method of an accumulator after Close.
	ErrClosed = errors.New("accumulator is closed")
	// ErrNilOutput is returned by Output when it is given nowhere to write.
	ErrNilOutput = errors.New("accumulator output target is nil")
)

// BufferWords returns the source buffer size, in words, that holds one full batch.
func BufferWords(transferWords int) int {
	return transferWords * batchTransactions
}

// PollInterval returns how often the accumulator should drain a source transferring once every
// period.
func PollInterval(period time.Duration) time.Duration {
	return period * pollRatio
}

// RunningState is a snapshot of everything the accumulator has folded so far along with its
// tunables.
type RunningState struct {
	Value           int64
	Count           uint32
	LastValue       int64
	LastTimestamp   uint32
	IntegratedValue float64

	Center           int64
	Deadband         int64
	IntegratedCenter float64
}

// Output is a consistent pair of Value and Count, taken from the same fold.
type Output struct {
	Value int64
	Count uint32
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithClock sets the clock driving the background drain and Calibrate.
func WithClock(clk clock.Clock) Option {
	return func(a *Accumulator) {
		a.clock = clk
	}
}

// Accumulator drains whole transactions from a Source and folds the valid ones into its
// RunningState. Every accessor drains first, so results are current as of the call.
type Accumulator struct {
	source autospi.Source
	cfg    DecodeConfig
	logger logging.Logger
	clock  clock.Clock

	mu          sync.Mutex
	state       RunningState
	buf         []uint32
	lastDropped uint64
	workers     utils.StoppableWorkers
	closed      bool
}

// New returns an accumulator reading from source. It only drains when asked to until Start is
// called.
func New(source autospi.Source, cfg DecodeConfig, logger logging.Logger, opts ...Option) (*Accumulator, error) {
	if err := cfg.Validate("accumulator"); err != nil {
		return nil, err
	}
	a := &Accumulator{
		source: source,
		cfg:    cfg,
		logger: logger,
		clock:  clock.New(),
		buf:    make([]uint32, BufferWords(cfg.TransferWords)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Start drains the source in the background once every interval.
func (a *Accumulator) Start(interval time.Duration) error {
	if interval <= 0 {
		return errors.Errorf("accumulator interval must be positive, got %s", interval)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.workers != nil {
		return errors.New("accumulator is already running")
	}
	a.logger.Debugw("starting accumulator", "interval", interval, "transfer_words", a.cfg.TransferWords)
	a.workers = utils.NewStoppableWorkersWithClock(a.clock)
	a.workers.AddTickerWorkers(interval, func(ctx context.Context) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if !a.closed {
			a.updateLocked()
		}
	})
	return nil
}

// Close stops the background drain. Every later call returns ErrClosed.
func (a *Accumulator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	workers := a.workers
	a.workers = nil
	a.mu.Unlock()

	if workers != nil {
		workers.Stop()
	}
	a.logger.Debug("accumulator closed")
	return nil
}

// updateLocked folds every whole transaction currently available. It stops early only when the
// source is empty; a full batch means more may be waiting, so it goes around again.
func (a *Accumulator) updateLocked() {
	frame := a.cfg.TransferWords
	for {
		n := a.source.Available()
		n -= n % frame
		if n == 0 {
			break
		}
		full := n >= len(a.buf)
		if full {
			n = len(a.buf)
		}
		n = a.source.Read(a.buf[:n])
		for off := 0; off+frame <= n; off += frame {
			a.foldLocked(a.buf[off : off+frame])
		}
		if !full {
			break
		}
	}

	if dropped := a.source.Dropped(); dropped != a.lastDropped {
		a.logger.Debugw("source dropped transfers", "dropped_words", dropped, "since_last_drain", dropped-a.lastDropped)
		a.lastDropped = dropped
	}
}

func (a *Accumulator) foldLocked(words []uint32) {
	timestamp := words[0]
	raw := a.cfg.assemble(words[1:])
	if !a.cfg.valid(raw) {
		a.state.LastValue = 0
		a.state.LastTimestamp = timestamp
		return
	}

	uncentered := a.cfg.extract(raw)
	data := uncentered - a.state.Center
	if data < -a.state.Deadband || data > a.state.Deadband {
		a.state.Value += data
		if a.state.Count != 0 {
			// Unsigned subtraction is wrap safe: a timestamp that rolled over still yields the
			// forward distance.
			dt := timestamp - a.state.LastTimestamp
			a.state.IntegratedValue += float64(uncentered)*float64(dt)*1e-6 - a.state.IntegratedCenter
		}
	}
	a.state.Count++
	a.state.LastValue = data
	a.state.LastTimestamp = timestamp
}

// withState runs f on the freshly updated state under the lock.
func (a *Accumulator) withState(f func(s *RunningState)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.updateLocked()
	f(&a.state)
	return nil
}

// LastValue returns the most recent centered sample, or 0 if the last transaction was invalid.
func (a *Accumulator) LastValue() (int64, error) {
	var v int64
	err := a.withState(func(s *RunningState) { v = s.LastValue })
	return v, err
}

// Value returns the sum of centered samples outside the deadband.
func (a *Accumulator) Value() (int64, error) {
	var v int64
	err := a.withState(func(s *RunningState) { v = s.Value })
	return v, err
}

// Count returns the number of valid samples since the last reset.
func (a *Accumulator) Count() (uint32, error) {
	var c uint32
	err := a.withState(func(s *RunningState) { c = s.Count })
	return c, err
}

// Average returns Value/Count, or 0 before any sample.
func (a *Accumulator) Average() (float64, error) {
	var avg float64
	err := a.withState(func(s *RunningState) {
		if s.Count != 0 {
			avg = float64(s.Value) / float64(s.Count)
		}
	})
	return avg, err
}

// Output fills out with Value and Count from the same update.
func (a *Accumulator) Output(out *Output) error {
	if out == nil {
		return ErrNilOutput
	}
	return a.withState(func(s *RunningState) {
		out.Value = s.Value
		out.Count = s.Count
	})
}

// IntegratedValue returns the integral of samples over time, in sample units times seconds.
func (a *Accumulator) IntegratedValue() (float64, error) {
	var v float64
	err := a.withState(func(s *RunningState) { v = s.IntegratedValue })
	return v, err
}

// IntegratedAverage returns the integral divided by the number of intervals it covers, or 0 until
// there are at least two samples.
func (a *Accumulator) IntegratedAverage() (float64, error) {
	var avg float64
	err := a.withState(func(s *RunningState) {
		if s.Count > 1 {
			avg = s.IntegratedValue / float64(s.Count-1)
		}
	})
	return avg, err
}

// State returns a copy of the whole running state.
func (a *Accumulator) State() (RunningState, error) {
	var st RunningState
	err := a.withState(func(s *RunningState) { st = *s })
	return st, err
}

// Reset zeroes the totals. Center, deadband and integrated center are kept. Transactions already
// buffered are folded first, so they are discarded along with the totals.
func (a *Accumulator) Reset() error {
	return a.withState(resetState)
}

func resetState(s *RunningState) {
	*s = RunningState{
		Center:           s.Center,
		Deadband:         s.Deadband,
		IntegratedCenter: s.IntegratedCenter,
	}
}

// SetCenter sets the value subtracted from every sample. It does not touch samples already folded.
func (a *Accumulator) SetCenter(center int64) error {
	return a.withState(func(s *RunningState) { s.Center = center })
}

// SetDeadband sets the half width of the band around center in which samples are counted but not
// summed.
func (a *Accumulator) SetDeadband(deadband int64) error {
	if deadband < 0 {
		return errors.Errorf("deadband cannot be negative, got %d", deadband)
	}
	return a.withState(func(s *RunningState) { s.Deadband = deadband })
}

// SetIntegratedCenter sets the amount subtracted from the integral on every sample.
func (a *Accumulator) SetIntegratedCenter(center float64) error {
	return a.withState(func(s *RunningState) { s.IntegratedCenter = center })
}

// Readings returns the current totals keyed by name.
func (a *Accumulator) Readings(ctx context.Context) (map[string]interface{}, error) {
	st, err := a.State()
	if err != nil {
		return nil, err
	}
	var avg, integratedAvg float64
	if st.Count != 0 {
		avg = float64(st.Value) / float64(st.Count)
	}
	if st.Count > 1 {
		integratedAvg = st.IntegratedValue / float64(st.Count-1)
	}
	return map[string]interface{}{
		"value":              st.Value,
		"count":              st.Count,
		"average":            avg,
		"last_value":         st.LastValue,
		"integrated_value":   st.IntegratedValue,
		"integrated_average": integratedAvg,
		"dropped":            a.source.Dropped(),
	}, nil
}

// Calibrate measures the drift of a sensor at rest: it clears the integrated center, resets,
// collects for d, and uses the integrated average of what it collected as the new integrated
// center. It resets again before returning.
func (a *Accumulator) Calibrate(ctx context.Context, d time.Duration) error {
	// Samples collected below must not have a previous center subtracted from them.
	if err := a.withState(func(s *RunningState) {
		resetState(s)
		s.IntegratedCenter = 0
	}); err != nil {
		return err
	}
	a.logger.CInfow(ctx, "calibrating accumulator; keep the sensor still", "duration", d)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.clock.After(d):
	}

	var center float64
	var count uint32
	if err := a.withState(func(s *RunningState) {
		count = s.Count
		if s.Count > 1 {
			center = s.IntegratedValue / float64(s.Count-1)
		}
		resetState(s)
		s.IntegratedCenter = center
	}); err != nil {
		return err
	}
	a.logger.CInfow(ctx, "accumulator calibrated", "integrated_center", center, "samples", count)
	return nil
}
