package monitoring

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = newDefaultLogger(os.Stderr)
)

// newDefaultLogger is the structured logger used until InitLogger runs.
// Per-cycle debug events stay silent at its Info level.
func newDefaultLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stderr}).
		Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// Logf is the package-level diagnostic logger. It defaults to an Info-level
// line on the structured logger but may be replaced by SetLogger. Tests or
// production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	l := Logger()
	l.Info().Msgf(format, v...)
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// InitLogger builds the process logger tagged with the application name and
// installs it as the structured logger returned by Logger. A nil writer
// writes to stderr.
func InitLogger(app string, w io.Writer, debug bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    w != os.Stderr && w != os.Stdout,
	}
	l := zerolog.New(output).Level(level).With().Timestamp().Str("app", app).Logger()
	SetStructured(l)
	return l
}

// SetStructured replaces the structured logger.
func SetStructured(l zerolog.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Logger returns the structured logger used for per-cycle events.
func Logger() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}
