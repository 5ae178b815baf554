package buses

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// ErrBusClosed is returned when opening a handle on a bus that was closed.
var ErrBusClosed = errors.New("SPI bus is closed")

// PortOpener opens a periph SPI port by its registry name, e.g. "SPI0.1".
type PortOpener func(name string) (spi.PortCloser, error)

// NewSpiBus returns a bus backed by the periph SPI registry. The host drivers must have been
// initialized first (see periph.io/x/host/v3).
func NewSpiBus(name string) SPI {
	return NewSpiBusWithOpener(name, spireg.Open)
}

// NewSpiBusWithOpener returns a bus that opens its ports through the given opener.
func NewSpiBusWithOpener(name string, open PortOpener) SPI {
	return &spiBus{bus: name, open: open}
}

type spiBus struct {
	mu     sync.Mutex
	bus    string
	open   PortOpener
	closed bool
}

type spiHandle struct {
	bus      *spiBus
	isClosed bool
}

func (sb *spiBus) OpenHandle() (SPIHandle, error) {
	sb.mu.Lock()
	if sb.closed {
		sb.mu.Unlock()
		return nil, ErrBusClosed
	}
	return &spiHandle{bus: sb}, nil
}

func (sb *spiBus) Close(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.closed = true
	return nil
}

func (sh *spiHandle) Xfer(ctx context.Context, baud uint, chipSelect string, mode uint, tx []byte) (rx []byte, err error) {
	if sh.isClosed {
		return nil, errors.New("can't use Xfer() on an already closed SPIHandle")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := sh.bus.open(fmt.Sprintf("SPI%s.%s", sh.bus.bus, chipSelect))
	if err != nil {
		return nil, errors.Wrapf(err, "opening SPI%s.%s", sh.bus.bus, chipSelect)
	}
	defer func() {
		err = multierr.Combine(err, port.Close())
	}()
	conn, err := port.Connect(physic.Hertz*physic.Frequency(baud), spi.Mode(mode), 8)
	if err != nil {
		return nil, err
	}
	rx = make([]byte, len(tx))
	return rx, conn.Tx(tx, rx)
}

func (sh *spiHandle) Close() error {
	if sh.isClosed {
		return errors.New("SPIHandle already closed")
	}
	sh.isClosed = true
	sh.bus.mu.Unlock()
	return nil
}
