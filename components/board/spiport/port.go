// Package spiport exposes one SPI device, a bus and chip select, with automatic transfers and an
// optional accumulator over their responses.
package spiport

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"

	"go.viam.com/spiaccum/components/board/accumulator"
	"go.viam.com/spiaccum/components/board/autospi"
	"go.viam.com/spiaccum/components/board/genericlinux/buses"
	"go.viam.com/spiaccum/logging"
)

// commandBytes is the width of the command word written at the start of every transfer.
const commandBytes = 4

// Option configures a Port.
type Option func(*Port)

// WithClock sets the clock shared by the transfer engine and the accumulator.
func WithClock(clk clock.Clock) Option {
	return func(p *Port) {
		p.clock = clk
	}
}

// Port is a single SPI device. Automatic transfers can be driven directly, or InitAccumulator
// sets them up to feed an accumulator.
type Port struct {
	logger logging.Logger
	clock  clock.Clock
	engine *autospi.Engine

	mu    sync.Mutex
	accum *accumulator.Accumulator
}

// NewPort returns a port for the device at cfg.ChipSelect on bus.
func NewPort(bus buses.SPI, cfg autospi.EngineConfig, logger logging.Logger, opts ...Option) *Port {
	p := &Port{logger: logger, clock: clock.New()}
	for _, opt := range opts {
		opt(p)
	}
	p.engine = autospi.NewEngine(bus, cfg, logger.Sublogger("auto"), autospi.WithClock(p.clock))
	return p
}

// InitAuto allocates a receive buffer of bufferWords words for automatic transfers.
func (p *Port) InitAuto(bufferWords int) error {
	return p.engine.Init(bufferWords)
}

// FreeAuto stops automatic transfers and releases their buffer.
func (p *Port) FreeAuto() error {
	return p.engine.Free()
}

// SetAutoTransmitData sets the bytes sent on each automatic transfer, followed by zeroSize zeros.
func (p *Port) SetAutoTransmitData(data []byte, zeroSize int) error {
	return p.engine.SetTransmitData(data, zeroSize)
}

// StartAutoRate starts an automatic transfer once every period.
func (p *Port) StartAutoRate(period time.Duration) error {
	return p.engine.StartRate(period)
}

// StartAutoTrigger starts an automatic transfer on the selected edges of pin.
func (p *Port) StartAutoTrigger(pin gpio.PinIn, rising, falling bool) error {
	return p.engine.StartTrigger(pin, rising, falling)
}

// StopAuto stops automatic transfers.
func (p *Port) StopAuto() {
	p.engine.Stop()
}

// ForceAutoRead performs one automatic transfer right away.
func (p *Port) ForceAutoRead(ctx context.Context) error {
	return p.engine.ForceRead(ctx)
}

// ReadAutoReceivedData fills dst with received words, waiting until it is full or ctx is done.
// With an empty dst it returns the number of words waiting without consuming any.
func (p *Port) ReadAutoReceivedData(ctx context.Context, dst []uint32) (int, error) {
	if len(dst) == 0 {
		return p.engine.Available(), nil
	}
	return p.engine.ReadContext(ctx, dst)
}

// AutoDroppedCount returns the number of received words lost to a full buffer.
func (p *Port) AutoDroppedCount() uint64 {
	return p.engine.Dropped()
}

// CommandFrame returns the command bytes sent ahead of payloadBytes of response. The command word
// is encoded in the device byte order; when the response is narrower than the word, only its low
// order bytes are sent.
func CommandFrame(command uint32, payloadBytes int, bigEndian bool) []byte {
	n := min(commandBytes, payloadBytes)
	var frame [commandBytes]byte
	if bigEndian {
		binary.BigEndian.PutUint32(frame[:], command)
		return frame[commandBytes-n:]
	}
	binary.LittleEndian.PutUint32(frame[:], command)
	return frame[:n]
}

// InitAccumulator starts transferring cfg.Command every cfg.Period and accumulating the
// responses. Automatic transfers must not already be initialized.
func (p *Port) InitAccumulator(ctx context.Context, cfg accumulator.Config) (err error) {
	if err := cfg.Validate("accumulator"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accum != nil {
		return errors.New("accumulator is already initialized")
	}

	if err := p.engine.Init(accumulator.BufferWords(cfg.TransferWords)); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, p.engine.Free())
		}
	}()

	payloadBytes := cfg.TransferWords - 1
	command := CommandFrame(cfg.Command, payloadBytes, cfg.BigEndian)
	if err := p.engine.SetTransmitData(command, payloadBytes-len(command)); err != nil {
		return err
	}
	if err := p.engine.StartRate(cfg.Period); err != nil {
		return err
	}

	accum, err := accumulator.New(p.engine, cfg.DecodeConfig, p.logger.Sublogger("accumulator"),
		accumulator.WithClock(p.clock))
	if err != nil {
		return err
	}
	if err := multierr.Combine(
		accum.SetCenter(cfg.Center),
		accum.SetDeadband(cfg.Deadband),
		accum.SetIntegratedCenter(cfg.IntegratedCenter),
		accum.Start(accumulator.PollInterval(cfg.Period)),
	); err != nil {
		return multierr.Combine(err, accum.Close())
	}
	p.accum = accum
	p.logger.CInfow(ctx, "accumulator started",
		"period", cfg.Period, "command", cfg.Command, "transfer_words", cfg.TransferWords)
	return nil
}

// FreeAccumulator stops the accumulator, then the automatic transfers feeding it.
func (p *Port) FreeAccumulator() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accum == nil {
		return nil
	}
	err := p.accum.Close()
	p.accum = nil
	return multierr.Combine(err, p.engine.Free())
}

// Accumulator returns the running accumulator, or nil if none was initialized.
func (p *Port) Accumulator() *accumulator.Accumulator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accum
}

// Close frees the accumulator and automatic transfers.
func (p *Port) Close(ctx context.Context) error {
	return multierr.Combine(p.FreeAccumulator(), p.engine.Free())
}
