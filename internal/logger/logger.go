package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu      sync.RWMutex
	log     = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	logFile *os.File
)

// InitLogging configures the process-wide logger. Console output goes to
// stderr; when path is non-empty every record is also appended to that file as JSON.
func InitLogging(debug bool, path string) error {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}}

	mu.Lock()
	defer mu.Unlock()

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		if logFile != nil {
			logFile.Close()
		}

		logFile = f
		writers = append(writers, f)
	}

	log = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()

	return nil
}

// SetOutput redirects all records to w. Used by tests and quiet mode.
func SetOutput(w io.Writer, debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	mu.Lock()
	log = zerolog.New(w).Level(level).With().Timestamp().Logger()
	mu.Unlock()
}

// Close flushes and closes the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Sync()
		logFile.Close()
		logFile = nil
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).Level(log.GetLevel()).With().Timestamp().Logger()
	}
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	l := log
	return &l
}

func Debugf(format string, args ...any) {
	current().Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	current().Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	current().Warn().Msgf(format, args...)
}

func Errorf(format string, args ...any) {
	current().Error().Msgf(format, args...)
}
