// Package main is the CLI command itself.
package main

import (
	"os"

	"go.viam.com/spiaccum/cli"
	"go.viam.com/spiaccum/logging"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.Global().Errorw("spiaccum failed", "error", err)
		os.Exit(1)
	}
}
