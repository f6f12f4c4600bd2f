// Package logging provides the per-subsystem loggers used throughout the
// devserver. High-frequency per-event lines use a plain prefixed *log.Logger
// (cheap, line-oriented); lifecycle and fatal events use structured slog.
package logging

import (
	"log"
	"log/slog"
	"os"
)

// New returns a prefixed logger for a named subsystem, e.g. "[WATCHER] ".
func New(subsystem string) *log.Logger {
	return log.New(os.Stderr, "["+subsystem+"] ", log.LstdFlags)
}

// structured is the process-wide slog logger used for lifecycle and fatal
// events, where a consistent key/value shape matters more than brevity.
var structured = slog.New(slog.NewTextHandler(os.Stderr, nil))

// Structured returns the process-wide structured logger.
func Structured() *slog.Logger {
	return structured
}
