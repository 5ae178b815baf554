package cli

import (
	"math/rand"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/spiaccum/components/board/accumulator"
	"go.viam.com/spiaccum/components/board/autospi/fake"
)

// SimulateAction feeds an accumulator synthetic responses spaced one period apart and prints the
// resulting readings.
func SimulateAction(c *cli.Context) (err error) {
	conf, err := readConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	samples := c.Int(flagSamples)
	if samples < 0 {
		return errors.Errorf("samples cannot be negative, got %d", samples)
	}
	noise := c.Int64(flagNoise)
	if noise < 0 {
		return errors.Errorf("noise cannot be negative, got %d", noise)
	}
	logger, closeLog := newLogger(c)
	defer func() {
		err = multierr.Combine(err, closeLog())
	}()

	src := fake.NewSource(accumulator.BufferWords(conf.TransferWords))
	accum, err := accumulator.New(src, conf.DecodeConfig, logger.Sublogger("accumulator"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, accum.Close())
	}()
	if err := multierr.Combine(
		accum.SetCenter(conf.Center),
		accum.SetDeadband(conf.Deadband),
		accum.SetIntegratedCenter(conf.IntegratedCenter),
	); err != nil {
		return err
	}

	//nolint:gosec
	rng := rand.New(rand.NewSource(1))
	step := uint32(conf.Period.Microseconds())
	generated := make(stats.Float64Data, 0, samples)
	for i := 0; i < samples; i++ {
		data := c.Int64(flagValue)
		if noise > 0 {
			data += rng.Int63n(2*noise+1) - noise
		}
		generated = append(generated, float64(data))
		payload := conf.Encode(data)
		timestamp := uint32(i) * step
		for !src.PushFrame(timestamp, payload...) {
			// Full; folding what is buffered makes room.
			if _, err := accum.Count(); err != nil {
				return err
			}
		}
	}

	readings, err := accum.Readings(c.Context)
	if err != nil {
		return err
	}
	if len(generated) > 0 {
		// Reference figures for the accumulated average; they match it when nothing falls in the
		// deadband and the center is zero.
		mean, err := generated.Mean()
		if err != nil {
			return err
		}
		stddev, err := generated.StandardDeviation()
		if err != nil {
			return err
		}
		readings["generated_mean"] = mean
		readings["generated_stddev"] = stddev
	}
	logger.Debugw("simulation done", "samples", samples, "period", conf.Period)
	printReadings(c.App.Writer, "simulated", readings)
	return nil
}
