// Package autospi implements the automatic SPI transfer engine: a fixed command frame is
// transmitted over the bus at a fixed period (or on a digital edge) and every response is
// appended to a bounded word buffer as one timestamped transaction.
//
// Each transaction occupies 1+N consecutive words. Word 0 is a 32-bit microsecond timestamp
// that wraps at 2^32; words 1..N each carry one received byte in their low 8 bits.
package autospi

import (
	"github.com/pkg/errors"
)

// Source is a bounded, ordered buffer of received transfer words. Implementations must be safe
// for concurrent use and must never block.
type Source interface {
	// Available returns the number of words currently buffered.
	Available() int
	// Read drains up to len(dst) words in arrival order and returns how many were copied.
	Read(dst []uint32) int
	// Dropped returns the number of words lost to buffer overflow.
	Dropped() uint64
}

const (
	// MaxTransmitBytes is the maximum number of command bytes sent per transfer.
	MaxTransmitBytes = 16
	// MaxZeroBytes is the maximum number of zero bytes that may follow the command bytes.
	MaxZeroBytes = 127
)

var (
	// ErrNotInitialized is returned when the engine has no buffer, either because Init was never
	// called or because it was freed.
	ErrNotInitialized = errors.New("automatic SPI transfer engine is not initialized")
	// ErrAlreadyRunning is returned when starting an engine that is already transferring.
	ErrAlreadyRunning = errors.New("automatic SPI transfer engine is already running")
	// ErrNoTransmitData is returned when starting an engine without a command frame.
	ErrNoTransmitData = errors.New("automatic SPI transfer engine has no transmit data")
)
