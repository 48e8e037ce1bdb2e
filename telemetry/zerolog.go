package telemetry

import (
	"context"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface. keyvals are
// interpreted as alternating key/value pairs, the same convention the
// teacher's Clue-backed logger used.
type ZerologLogger struct {
	L zerolog.Logger
}

func NewZerologLogger(l zerolog.Logger) ZerologLogger { return ZerologLogger{L: l} }

func (z ZerologLogger) Debug(_ context.Context, msg string, keyvals ...any) {
	z.event(z.L.Debug(), msg, keyvals)
}

func (z ZerologLogger) Info(_ context.Context, msg string, keyvals ...any) {
	z.event(z.L.Info(), msg, keyvals)
}

func (z ZerologLogger) Warn(_ context.Context, msg string, keyvals ...any) {
	z.event(z.L.Warn(), msg, keyvals)
}

func (z ZerologLogger) Error(_ context.Context, msg string, keyvals ...any) {
	z.event(z.L.Error(), msg, keyvals)
}

func (z ZerologLogger) event(e *zerolog.Event, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keyvals[i+1])
	}
	e.Msg(msg)
}
