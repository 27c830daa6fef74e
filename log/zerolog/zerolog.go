// Package zerolog adapts a zerolog.Logger to opscache.Logger.
package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/opscache"
)

var _ opscache.Logger = Logger{}

type Logger struct{ L zerolog.Logger }

func New(l zerolog.Logger) Logger {
	return Logger{L: l.With().Str("component", "opscache").Logger()}
}

func (z Logger) Debug(msg string, f opscache.Fields) { z.emit(z.L.Debug(), msg, f) }
func (z Logger) Info(msg string, f opscache.Fields)  { z.emit(z.L.Info(), msg, f) }
func (z Logger) Warn(msg string, f opscache.Fields)  { z.emit(z.L.Warn(), msg, f) }
func (z Logger) Error(msg string, f opscache.Fields) { z.emit(z.L.Error(), msg, f) }

func (z Logger) emit(e *zerolog.Event, msg string, f opscache.Fields) {
	if e == nil {
		return
	}
	if len(f) > 0 {
		e = e.Fields(map[string]any(f))
	}
	e.Msg(msg)
}
