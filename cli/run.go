package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"periph.io/x/host/v3"

	"go.viam.com/spiaccum/components/board/autospi"
	"go.viam.com/spiaccum/components/board/genericlinux/buses"
	"go.viam.com/spiaccum/components/board/spiport"
	"go.viam.com/spiaccum/logging"
)

// RunAction accumulates from a real device and prints its readings every interval.
func RunAction(c *cli.Context) (err error) {
	conf, err := readConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	engineConf := autospi.EngineConfig{
		ChipSelect: c.String(flagChipSelect),
		Baud:       c.Uint(flagBaud),
		Mode:       c.Uint(flagMode),
	}
	if err := engineConf.Validate("engine"); err != nil {
		return err
	}
	logger, closeLog := newLogger(c)
	defer func() {
		err = multierr.Combine(err, closeLog())
	}()

	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "initializing host drivers")
	}

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if c.Bool(flagDebug) {
		ctx = logging.EnableDebugMode(ctx, "")
	}

	bus := buses.NewSpiBus(c.String(flagBus))
	port := spiport.NewPort(bus, engineConf, logger)
	if err := port.InitAccumulator(ctx, *conf); err != nil {
		return multierr.Combine(err, bus.Close(ctx))
	}
	defer func() {
		err = multierr.Combine(err, port.Close(ctx), bus.Close(ctx))
	}()

	accum := port.Accumulator()
	if d := c.Duration(flagCalibrate); d > 0 {
		if err := accum.Calibrate(ctx, d); err != nil {
			if errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
	}

	title := fmt.Sprintf("SPI%s.%s", c.String(flagBus), c.String(flagChipSelect))
	for goutils.SelectContextOrWait(ctx, c.Duration(flagInterval)) {
		readings, err := accum.Readings(ctx)
		if err != nil {
			return err
		}
		printReadings(c.App.Writer, title, readings)
	}
	return nil
}
