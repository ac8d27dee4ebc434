// Package plog wraps zerolog the way the store's components expect to log:
// a process-wide base logger plus named sub-loggers; the transfer driver
// holds one named "xfer". Data processors take no logger.
package plog

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// SetLevel adjusts the global logging level ("debug", "info", "warn", "error").
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

// Named returns a sub-logger carrying a "component" field (the transfer
// driver's is Named("xfer")).
func Named(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

func Infof(format string, args ...interface{})  { base.Info().Msgf(format, args...) }
func Errorf(format string, args ...interface{}) { base.Error().Msgf(format, args...) }
func Warnf(format string, args ...interface{})  { base.Warn().Msgf(format, args...) }
func Infoln(args ...interface{})                { base.Info().Msg(fmt.Sprint(args...)) }
func Errorln(args ...interface{})               { base.Error().Msg(fmt.Sprint(args...)) }
