// Package logging assembles structured slog loggers and formatting helpers used
// across partforge.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code can automatically
// tag log lines with run IDs, stages, unit IDs, and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail, and a tee helper for mirroring a run's events into its own file.
package logging
