// Package logger builds the agent's zerolog loggers from configuration.
package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidLevel  = errors.New("unknown log level")
	ErrInvalidOutput = errors.New("unknown log output")
	ErrInvalidFormat = errors.New("unknown log format")
)

type Config struct {
	Level string `yaml:"level"`
	// Debug forces the debug level regardless of Level.
	Debug bool `yaml:"debug"`
	// Output is stdout or stderr.
	Output string `yaml:"output"`
	// Format is json or console.
	Format     string `yaml:"format"`
	TimeFormat string `yaml:"time_format"`
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: "stdout",
		Format: "json",
	}
}

func (c Config) Validate() error {
	_, levelErr := c.level()
	_, outputErr := c.writer()
	var formatErr error
	if !c.console() && !strings.EqualFold(c.Format, "json") && c.Format != "" {
		formatErr = fmt.Errorf("%w: %q", ErrInvalidFormat, c.Format)
	}
	return errors.Join(levelErr, outputErr, formatErr)
}

func (c Config) level() (zerolog.Level, error) {
	if c.Debug {
		return zerolog.DebugLevel, nil
	}
	if c.Level == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("%w: %q", ErrInvalidLevel, c.Level)
	}
	return level, nil
}

func (c Config) writer() (io.Writer, error) {
	switch strings.ToLower(c.Output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidOutput, c.Output)
}

func (c Config) console() bool {
	return strings.EqualFold(c.Format, "console")
}

// New returns the root logger writing to the configured output.
func New(cfg Config) (zerolog.Logger, error) {
	w, err := cfg.writer()
	if err != nil {
		return zerolog.Nop(), err
	}
	return NewWithWriter(cfg, w)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg Config, w io.Writer) (zerolog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return zerolog.Nop(), err
	}
	level, _ := cfg.level()

	timeFormat := time.RFC3339
	if cfg.TimeFormat != "" {
		timeFormat = cfg.TimeFormat
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.console() {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat, NoColor: true}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Component returns a child of root tagged component=<name>.
func Component(root zerolog.Logger, name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}
