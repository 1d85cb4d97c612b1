package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// runTee sends each record to the process logger when it accepts the level
// and to the run's own log, which records everything down to debug.
type runTee struct {
	base slog.Handler
	run  slog.Handler
}

func (t runTee) Enabled(ctx context.Context, level slog.Level) bool {
	return t.base.Enabled(ctx, level) || t.run.Enabled(ctx, level)
}

func (t runTee) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	if t.base.Enabled(ctx, record.Level) {
		errs = append(errs, t.base.Handle(ctx, record.Clone()))
	}
	if t.run.Enabled(ctx, record.Level) {
		errs = append(errs, t.run.Handle(ctx, record))
	}
	return errors.Join(errs...)
}

func (t runTee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return runTee{base: t.base.WithAttrs(attrs), run: t.run.WithAttrs(attrs)}
}

func (t runTee) WithGroup(name string) slog.Handler {
	return runTee{base: t.base.WithGroup(name), run: t.run.WithGroup(name)}
}

// OpenRunLog returns a logger that writes to base and appends debug-level
// JSON to the run log at path. Closing the returned closer releases the run
// log; base is unaffected.
func OpenRunLog(base *slog.Logger, path string) (*slog.Logger, io.Closer, error) {
	run, closer, err := NewJSONFileHandler(path, "debug")
	if err != nil {
		return nil, nil, err
	}
	if base == nil {
		return slog.New(run), closer, nil
	}
	return slog.New(runTee{base: base.Handler(), run: run}), closer, nil
}
