package logger

import (
	"log/slog"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logger used by every component.
// args are alternating key/value pairs, as in log/slog.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type slogLogger struct {
	logger *slog.Logger
}

// New returns a Logger writing through the given slog handler.
func New(h slog.Handler) Logger {
	return &slogLogger{logger: slog.New(h)}
}

// Default is a JSON logger on stderr at info level.
func Default() Logger {
	return New(slog.NewJSONHandler(os.Stderr, nil))
}

func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerolog adapts a zerolog logger to Logger.
func NewZerolog(l zerolog.Logger) Logger {
	return &zerologLogger{logger: l}
}

func (l *zerologLogger) Error(msg string, args ...any) { l.write(l.logger.Error(), msg, args) }
func (l *zerologLogger) Warn(msg string, args ...any)  { l.write(l.logger.Warn(), msg, args) }
func (l *zerologLogger) Info(msg string, args ...any)  { l.write(l.logger.Info(), msg, args) }
func (l *zerologLogger) Debug(msg string, args ...any) { l.write(l.logger.Debug(), msg, args) }

func (l *zerologLogger) write(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 == len(args) {
			e = e.Interface("!BADKEY", args[i])
			i--
			continue
		}
		if err, isErr := args[i+1].(error); isErr {
			e = e.AnErr(key, err)
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	e.Msg(msg)
}

type nop struct{}

// Nop discards everything.
func Nop() Logger { return nop{} }

func (nop) Error(string, ...any) {}
func (nop) Warn(string, ...any)  {}
func (nop) Info(string, ...any)  {}
func (nop) Debug(string, ...any) {}
