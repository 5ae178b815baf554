package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accumulator.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestSimulate(t *testing.T) {
	path := writeConfig(t, `{"preset": "adxrs450", "period": "500us"}`)

	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run([]string{"spiaccum", "--config", path, "simulate", "--samples", "100", "--value", "-80"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.ToLower(out.String()), test.ShouldContainSubstring, "simulated")
	test.That(t, out.String(), test.ShouldContainSubstring, "-8000")
	test.That(t, out.String(), test.ShouldContainSubstring, "-80.000000")
	test.That(t, out.String(), test.ShouldContainSubstring, "-3.960000")
}

func TestSimulateManySamples(t *testing.T) {
	path := writeConfig(t, `{
		"period": "1ms",
		"command": "0x8000",
		"transfer_words": 3,
		"data_bits": 16,
		"signed": true,
		"big_endian": true
	}`)

	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run([]string{"spiaccum", "--config", path, "simulate", "--samples", "5000", "--value", "2"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "5000")
	test.That(t, out.String(), test.ShouldContainSubstring, "10000")
}

func TestSimulateErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)

	err := app.Run([]string{"spiaccum", "--config", filepath.Join(t.TempDir(), "missing.json"), "simulate"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "reading config file")

	path := writeConfig(t, `{"preset": "adxrs450", "period": "500us", "data_bits": 40}`)
	err = app.Run([]string{"spiaccum", "--config", path, "simulate"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "data_bits")

	path = writeConfig(t, `{"preset": "adxrs450"`)
	err = app.Run([]string{"spiaccum", "--config", path, "simulate"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "parsing config file")

	path = writeConfig(t, `{"preset": "adxrs450"}`)
	err = app.Run([]string{"spiaccum", "--config", path, "simulate", "--samples", "-1"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSimulateLogFile(t *testing.T) {
	path := writeConfig(t, `{"preset": "adxrs450"}`)
	logPath := filepath.Join(t.TempDir(), "spiaccum.log")

	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run([]string{
		"spiaccum", "--config", path, "--debug", "--log-file", logPath,
		"simulate", "--samples", "10", "--value", "100", "--noise", "5",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "generated_mean")

	logged, err := os.ReadFile(logPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logged), test.ShouldContainSubstring, "simulation done")
	test.That(t, errOut.String(), test.ShouldContainSubstring, "simulation done")
}

func TestSchema(t *testing.T) {
	var out, errOut bytes.Buffer
	test.That(t, NewApp(&out, &errOut).Run([]string{"spiaccum", "schema"}), test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, `"period"`)
	test.That(t, out.String(), test.ShouldContainSubstring, `"preset"`)

	err := NewApp(&out, &errOut).Run([]string{"spiaccum", "simulate"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "--config is required")
}
