package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/one-account/one-account-api/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logLevel is shared by every handler SetupLogger installs so the level can be
// changed at runtime (see SetLogLevel) without rebuilding the logger.
var logLevel = new(slog.LevelVar)

// ParseLevel maps "debug", "info", "warn", "error" (case-insensitive) to a
// slog.Level; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger configures the global slog default logger from the logging config.
//
// format: "json"  → JSONHandler (machine readable; recommended for production)
//
//	anything else → TextHandler (human readable; suitable for local development)
//
// output: "stdout" (default), "stderr", or a file path written through a
// rotating lumberjack writer.
//
// The returned closer releases the log file, if any.
func SetupLogger(cfg config.LoggingConfig) io.Closer {
	logLevel.Set(ParseLevel(cfg.Level))

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel.Level() == slog.LevelDebug,
	}

	w, closer := logWriter(cfg)

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", cfg.Format, "level", logLevel.Level().String(), "output", outputName(cfg.Output))
	return closer
}

// SetLogLevel changes the level of the installed logger
func SetLogLevel(level string) {
	lvl := ParseLevel(level)
	if lvl == logLevel.Level() {
		return
	}
	logLevel.Set(lvl)
	slog.Info("log level changed", "level", lvl.String())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func logWriter(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout, nopCloser{}
	case "stderr":
		return os.Stderr, nopCloser{}
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return lj, lj
}

func outputName(output string) string {
	if output == "" {
		return "stdout"
	}
	return output
}
