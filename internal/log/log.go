package log

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Package log is a thin facade over zerolog keeping call sites in the
// key-value style used across the codebase:
//
//	log.Info("feed generated", "schedules", n)
//	log.Error("fetch failed", err, "attempt", attempt)

var (
	logger     zerolog.Logger
	loggerOnce sync.Once
)

func initLogger() {
	loggerOnce.Do(func() {
		out := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
		logger = zerolog.New(out).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	})
}

// SetLevel adjusts the minimum level. Unknown names keep the current level.
func SetLevel(name string) {
	initLogger()
	switch strings.ToLower(name) {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "info":
		logger = logger.Level(zerolog.InfoLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	}
}

func Debug(msg string, kv ...any) {
	initLogger()
	emit(logger.Debug(), msg, kv)
}

func Info(msg string, kv ...any) {
	initLogger()
	emit(logger.Info(), msg, kv)
}

func Warn(msg string, kv ...any) {
	initLogger()
	emit(logger.Warn(), msg, kv)
}

func Error(msg string, err error, kv ...any) {
	initLogger()
	emit(logger.Error().Err(err), msg, kv)
}

// emit applies kv as pairs: key, value, key, value, ...
// Non-string keys and a trailing odd value are ignored.
func emit(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
