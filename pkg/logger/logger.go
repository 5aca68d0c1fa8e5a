package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger handed to every component.
// Arguments after msg are alternating key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	Fatal(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New builds a logger writing to stdout. Level is one of
// debug, info, warn, error; anything else falls back to info.
func New(level string) Logger {
	return NewWithWriter(level, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
}

// NewJSON builds a logger that emits one JSON object per line.
func NewJSON(level string) Logger {
	return NewWithWriter(level, os.Stdout)
}

func NewWithWriter(level string, w io.Writer) Logger {
	zl := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return &zeroLogger{zl: zl}
}

// Nop discards everything. Handy in tests.
func Nop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *zeroLogger) Debug(msg string, keyvals ...any) {
	withFields(l.zl.Debug(), keyvals).Msg(msg)
}

func (l *zeroLogger) Info(msg string, keyvals ...any) {
	withFields(l.zl.Info(), keyvals).Msg(msg)
}

func (l *zeroLogger) Warn(msg string, keyvals ...any) {
	withFields(l.zl.Warn(), keyvals).Msg(msg)
}

func (l *zeroLogger) Error(msg string, keyvals ...any) {
	withFields(l.zl.Error(), keyvals).Msg(msg)
}

// Fatal logs and exits the process with status 1.
func (l *zeroLogger) Fatal(msg string, keyvals ...any) {
	withFields(l.zl.Fatal(), keyvals).Msg(msg)
}

func (l *zeroLogger) With(keyvals ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i < len(keyvals); i += 2 {
		key, val := pair(keyvals, i)
		if err, ok := val.(error); ok {
			ctx = ctx.AnErr(key, err)
			continue
		}
		ctx = ctx.Interface(key, val)
	}
	return &zeroLogger{zl: ctx.Logger()}
}

func withFields(e *zerolog.Event, keyvals []any) *zerolog.Event {
	for i := 0; i < len(keyvals); i += 2 {
		key, val := pair(keyvals, i)
		switch v := val.(type) {
		case error:
			e = e.AnErr(key, v)
		case string:
			e = e.Str(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}

func pair(keyvals []any, i int) (string, any) {
	key, ok := keyvals[i].(string)
	if !ok {
		key = fmt.Sprint(keyvals[i])
	}
	if i+1 >= len(keyvals) {
		return key, "(MISSING)"
	}
	return key, keyvals[i+1]
}
