package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level is a log verbosity, kept as the toolkit's own string type rather
// than zerolog.Level directly, so pkg/config's YAML tree never has to
// import zerolog to parse a Logger.Level key.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config controls Init's construction of the package logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

var (
	mu     sync.RWMutex
	logger zerolog.Logger
)

// Init (re)configures the package-wide logger. Guarded by mu rather than
// a bare package-level var, since cobra.OnInitialize can call this after
// subsystem goroutines (event threads, the refresher, the timer pool)
// have already started logging through With*.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var l zerolog.Logger
	if cfg.JSONOutput {
		l = zerolog.New(output).With().Timestamp().Logger()
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	mu.Lock()
	logger = l
	mu.Unlock()
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// WithComponent tags a child logger with the subsystem emitting it
// (e.g. "evthread", "dnscache", "timerpool", "refreshcoord").
func WithComponent(component string) zerolog.Logger {
	return current().With().Str("component", component).Logger()
}

// WithQueueID tags a child logger with the bounded queue it concerns.
func WithQueueID(queueID string) zerolog.Logger {
	return current().With().Str("queue_id", queueID).Logger()
}

// WithThread tags a child logger with the event thread it concerns.
func WithThread(threadID string) zerolog.Logger {
	return current().With().Str("thread_id", threadID).Logger()
}

// WithNamedServerID tags a child logger with the DNS named-server id it
// concerns, since a process may run more than one dnscache.Cache.
func WithNamedServerID(namedServerID int) zerolog.Logger {
	return current().With().Int("named_server_id", namedServerID).Logger()
}

func Info(msg string)  { current().Info().Msg(msg) }
func Debug(msg string) { current().Debug().Msg(msg) }
func Warn(msg string)  { current().Warn().Msg(msg) }
func Error(msg string) { current().Error().Msg(msg) }

func Errorf(format string, err error) { current().Error().Err(err).Msg(format) }

func Fatal(msg string) { current().Fatal().Msg(msg) }
