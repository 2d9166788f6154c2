package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options describe where process logs go.
type Options struct {
	Level string // debug, info, warn, error; empty means info

	// Console receives human-readable lines. Stdout carries rendered
	// results, so callers pass stderr here. Nil disables console output.
	Console io.Writer
	JSON    bool // write JSON to Console instead of the pretty format

	File       string // optional log file
	MaxSizeMB  int    // rotate File past this size, 0 disables rotation
	MaxAgeDays int    // prune rotated files older than this
	Compress   bool   // gzip rotated files

	Redact bool // mask credentials in every line
}

// Logger is the process logger. It embeds the zerolog logger every
// component derives its own logger from.
type Logger struct {
	zerolog.Logger
	file io.Closer
}

// New builds the logger and installs it as the global zerolog logger.
func New(opts Options) (*Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var writers []io.Writer
	if opts.Console != nil {
		if opts.JSON {
			writers = append(writers, opts.Console)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: time.Kitchen})
		}
	}

	l := &Logger{}
	if opts.File != "" {
		file, err := openLogFile(opts)
		if err != nil {
			return nil, err
		}
		l.file = file
		writers = append(writers, file)
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}
	if opts.Redact {
		w = NewRedactor().Wrap(w)
	}

	l.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = l.Logger
	return l, nil
}

func openLogFile(opts Options) (io.WriteCloser, error) {
	if opts.MaxSizeMB > 0 {
		return NewRotatingWriter(opts.File, opts.MaxSizeMB, opts.MaxAgeDays, opts.Compress)
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close flushes and closes the log file. Console output needs no cleanup.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
