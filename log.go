package srtio

import (
	"os"
	"sync/atomic"

	"github.com/emliri/srtio/native"
	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Components derive a scoped child
// logger from it via componentLogger.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// SetLogger overrides the process-wide logger, e.g. to ship JSON to a
// collector instead of the default console writer.
func SetLogger(l zerolog.Logger) {
	Logger = l
}

func componentLogger(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// currentNativeLogLevel holds the last forwarded level plus one, so its
// zero value means "nothing forwarded yet" rather than level 0.
var currentNativeLogLevel atomic.Int32

// SetNativeLogLevel forwards level (0-7, syslog-style severity) to the
// native library and records it so repeated calls are cheap no-ops when
// the level hasn't changed. Safe to call repeatedly and from any goroutine.
func SetNativeLogLevel(binding native.Binding, level int) {
	if int32(level)+1 == currentNativeLogLevel.Load() {
		return
	}
	currentNativeLogLevel.Store(int32(level) + 1)
	binding.SetLogLevel(native.LogLevel(level))
	logger := componentLogger("native")
	logger.Info().Int("level", level).Msg("log level changed")
}
