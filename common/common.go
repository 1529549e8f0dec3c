// Package common holds shared constants and the logger setup used by all
// services in this repository.
package common

import (
	"log/slog"
	"os"
)

// PackageName is the service namespace used for metrics and logging.
const PackageName = "enclave-keyring"

// Version is set at build time via -ldflags.
var Version = "dev"

// LoggingOpts configures the process-wide structured logger.
type LoggingOpts struct {
	// Debug enables debug-level messages.
	Debug bool

	// JSON switches the handler to JSON output.
	JSON bool

	// Service is added as a "service" attribute to every record.
	Service string

	// Version is added as a "version" attribute to every record.
	Version string
}

// SetupLogger creates a slog.Logger according to the provided options.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With(slog.String("service", opts.Service))
	}
	if opts.Version != "" {
		logger = logger.With(slog.String("version", opts.Version))
	}
	return logger
}
