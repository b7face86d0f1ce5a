package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout. Services derive component
// loggers via With.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
