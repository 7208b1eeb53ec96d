// Package telemetry sets up logging and tracing for the daemon.
package telemetry

import (
	"io"
	"log/slog"
	"strings"
)

// SetupLogging installs a JSON slog logger writing to w as the default logger
// and returns it. Every line carries the service name.
func SetupLogging(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	logger := slog.New(handler).With(slog.String("service", strings.TrimSpace(service)))
	slog.SetDefault(logger)
	return logger
}
