package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Rescue events carry an "event" field with one of the stream tags
// (PLAN, SENT, CONFIRMED, SUCCESS, FAILED, RETRY, NONCE GUARD, PRIVATE RPC,
// WARNING).

type Logger struct {
	zerolog.Logger
}

func NewLogger() *Logger {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return &Logger{Logger: zerolog.New(output).With().Timestamp().Logger()}
}

// NewNopLogger discards everything. Used by tests and library callers that
// bring no log sink.
func NewNopLogger() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// Event starts an info-level entry tagged with a rescue stream event.
func (l *Logger) Event(tag string) *zerolog.Event {
	return l.Info().Str("event", tag)
}

// Warning starts a warn-level entry with the WARNING tag.
func (l *Logger) Warning() *zerolog.Event {
	return l.Warn().Str("event", "WARNING")
}
