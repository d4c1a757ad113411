// Package logging builds the zerolog logger used by the worker binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings for LOG_FILE.
const (
	logMaxSizeMB  = 50
	logMaxBackups = 5
	logMaxAgeDays = 14
)

// Options selects level, format and an optional rotating log file.
type Options struct {
	Level  string // zerolog level name, e.g. "debug"
	Format string // "console" or "json"
	File   string // empty disables file output
}

// New builds a logger writing to out (and to Options.File, rotated, if set).
// The returned closer releases the file and must be called on shutdown.
func New(opts Options, out io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("parse log level: %w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var console io.Writer = out
	if opts.Format == "console" {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	var closer io.Closer = nopCloser{}
	writer := console
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
		}
		// Files always get JSON regardless of the console format.
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}
		closer = lj
		writer = zerolog.MultiLevelWriter(console, lj)
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger(), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
