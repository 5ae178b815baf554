package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"go.viam.com/spiaccum/components/board/accumulator"
	"go.viam.com/spiaccum/logging"
)

func readConfig(path string) (*accumulator.Config, error) {
	if path == "" {
		return nil, errors.Errorf("--%s is required", flagConfig)
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	var attributes map[string]interface{}
	if err := json.Unmarshal(data, &attributes); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %q", path)
	}
	return accumulator.ConfigFromAttributes(attributes)
}

// newLogger returns the command logger and a function that flushes and closes its log file, if
// any.
func newLogger(c *cli.Context) (logging.Logger, func() error) {
	// Readings go to the app writer, logs to the error writer.
	logger := logging.NewBlankLogger("spiaccum")
	if !c.Bool(flagDebug) {
		logger.SetLevel(logging.INFO)
	}
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	logging.ReplaceGlobal(logger)

	path := c.String(flagLogFile)
	if path == "" {
		return logger, func() error { return nil }
	}
	logFile := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    64,
		MaxBackups: 2,
		Compress:   true,
	}
	logger.AddAppender(logging.NewWriterAppender(logFile))
	return logger, logFile.Close
}

// SchemaAction prints the JSON schema of the accumulator configuration file.
func SchemaAction(c *cli.Context) error {
	schema := jsonschema.Reflect(&accumulator.Config{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding schema")
	}
	_, err = fmt.Fprintln(c.App.Writer, string(out))
	return err
}
