// Package cli contains the spiaccum command line application.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	flagConfig     = "config"
	flagDebug      = "debug"
	flagLogFile    = "log-file"
	flagBus        = "bus"
	flagChipSelect = "chip-select"
	flagBaud       = "baud"
	flagMode       = "mode"
	flagInterval   = "interval"
	flagCalibrate  = "calibrate"
	flagSamples    = "samples"
	flagValue      = "value"
	flagNoise      = "noise"
)

var app = &cli.App{
	Name:            "spiaccum",
	Usage:           "accumulate readings from an SPI sensor using automatic transfers",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load accumulator configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  flagLogFile,
			Usage: "also write logs to `FILE`, rotated as it grows",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "run",
			Usage: "accumulate from a device and print readings until interrupted",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagBus,
					Value: "0",
					Usage: "SPI bus number",
				},
				&cli.StringFlag{
					Name:  flagChipSelect,
					Value: "0",
					Usage: "chip select of the device on the bus",
				},
				&cli.UintFlag{
					Name:  flagBaud,
					Value: 4000000,
					Usage: "bus clock in Hz",
				},
				&cli.UintFlag{
					Name:  flagMode,
					Value: 0,
					Usage: "SPI mode (0-3)",
				},
				&cli.DurationFlag{
					Name:  flagInterval,
					Value: time.Second,
					Usage: "how often to print readings",
				},
				&cli.DurationFlag{
					Name:  flagCalibrate,
					Usage: "calibrate the integrated center for this long before printing",
				},
			},
			Action: RunAction,
		},
		{
			Name:  "simulate",
			Usage: "accumulate synthetic responses and print the readings",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  flagSamples,
					Value: 1000,
					Usage: "number of transactions to generate",
				},
				&cli.Int64Flag{
					Name:  flagValue,
					Usage: "data value carried by every response",
				},
				&cli.Int64Flag{
					Name:  flagNoise,
					Usage: "maximum random deviation added to the value",
				},
			},
			Action: SimulateAction,
		},
		{
			Name:   "schema",
			Usage:  "print the JSON schema of the accumulator configuration",
			Action: SchemaAction,
		},
	},
}

// NewApp returns a new app with the CLI command set.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
