// Package logging configures the process-wide slog logger for the two ways
// the tool runs: interactively from a shell, or unattended from cron or a
// systemd timer.
package logging

import (
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/term"
)

// Setup installs the global slog logger backed by charmbracelet/log.
// Interactive runs get colored text output with the default short clock.
// Scheduled runs emit JSON with RFC 3339 timestamps, so collected cycle
// logs stay parseable and ordered across invocations.
func Setup(verbose bool) {
	opts := charmlog.Options{
		ReportTimestamp: true,
	}
	if verbose {
		opts.Level = charmlog.DebugLevel
		opts.ReportCaller = true
	}
	if scheduled() {
		opts.Formatter = charmlog.JSONFormatter
		opts.TimeFormat = time.RFC3339
	}

	slog.SetDefault(slog.New(charmlog.NewWithOptions(os.Stderr, opts)))
}

// scheduled reports whether the process runs without a terminal, which is
// the normal mode under a cron or timer scheduler.
func scheduled() bool {
	return !term.IsTerminal(int(os.Stderr.Fd()))
}
