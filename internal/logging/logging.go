// Package logging configures the process-wide slog logger: tinted output on
// stdout, optionally duplicated into a logfile.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Init builds the logger. With a logFile path the output is duplicated into
// the file (colors disabled so the file stays grep-able); the returned file
// is nil when logging to stdout only. verbose lifts the level to debug.
func Init(logFile string, verbose bool) (*slog.Logger, *os.File) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if logFile == "" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level})), nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))
		logger.Error("failed to open log file; falling back to stdout only", "path", logFile, "error", err)
		return logger, nil
	}

	mw := io.MultiWriter(os.Stdout, f)
	logger := slog.New(tint.NewHandler(mw, &tint.Options{Level: level, NoColor: true}))

	// Align legacy stdlib log output with ours.
	log.SetOutput(mw)
	return logger, f
}
