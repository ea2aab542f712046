package log

import (
	"fmt"

	"github.com/spf13/pflag"
)

type Config struct {
	// Level is the minimum record level to log. Either 'debug', 'info', 'warn'
	// or 'error'.
	Level string `json:"level" yaml:"level"`

	// Subsystems enables debug logging on log records whose 'subsystem'
	// matches one of the given values (overrides `Level`).
	Subsystems []string `json:"subsystems" yaml:"subsystems"`

	// Encoding is the log record encoding. Either 'json' or 'console'.
	Encoding string `json:"encoding" yaml:"encoding"`

	// Output is the path to write logs to, or 'stderr' or 'stdout'.
	Output string `json:"output" yaml:"output"`
}

func Default() *Config {
	return &Config{
		Level:    "info",
		Encoding: "json",
		Output:   "stderr",
	}
}

func (c *Config) Validate() error {
	if c.Level == "" {
		return fmt.Errorf("missing level")
	}
	if _, err := zapLevelFromString(c.Level); err != nil {
		return err
	}
	if c.Encoding != "json" && c.Encoding != "console" {
		return fmt.Errorf("unsupported encoding: %s", c.Encoding)
	}
	if c.Output == "" {
		return fmt.Errorf("missing output")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Level,
		"log.level",
		c.Level,
		`
Minimum log level to output.

The available levels are 'debug', 'info', 'warn' and 'error'.`,
	)
	fs.StringSliceVar(
		&c.Subsystems,
		"log.subsystems",
		c.Subsystems,
		`
Each log has a 'subsystem' field where the log occurred.

'--log.subsystems' enables all log levels for those given subsystems. This
can be useful to debug a particular subsystem without having to enable all
debug logs.

Such as you can enable 'swim' logs with '--log.subsystems swim'.`,
	)
	fs.StringVar(
		&c.Encoding,
		"log.encoding",
		c.Encoding,
		`
Log record encoding.

Either 'json' for structured logs or 'console' for human readable logs.`,
	)
	fs.StringVar(
		&c.Output,
		"log.output",
		c.Output,
		`
Path of the file to write logs to.

Use 'stderr' or 'stdout' to write to the standard streams.`,
	)
}
