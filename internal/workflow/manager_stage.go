package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"partforge/internal/imageio"
	"partforge/internal/logging"
	"partforge/internal/services"
	"partforge/internal/stage"
)

// invocation describes one stage run.
type invocation struct {
	stage string
	op    string
	retry bool
	// guard checks the current state and record under the lock.
	guard func(state State, rec *Record, src *imageio.Source) error
	// run computes new outputs from a copy of the record. The returned commit
	// is applied under the lock when non-nil, even alongside an error; stage
	// failures return a nil commit so the record is left unchanged.
	run func(ctx context.Context, src *imageio.Source, rec Record) (commit func(m *Manager), err error)
}

var errBusy = services.Wrap(services.ErrState, "workflow", "begin", "a stage is already running", nil)

func (m *Manager) execute(ctx context.Context, inv invocation) error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return errBusy
	}
	if inv.guard != nil {
		if err := inv.guard(m.state, &m.record, m.source); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.busy = true
	m.retrying = inv.retry
	src := m.source
	rec := m.record.clone()
	runID := m.runID
	m.mu.Unlock()
	m.emitSnapshot(EventStageStarted, inv.stage, nil)

	ctx = withStageContext(ctx, runID, inv.stage)
	sink := &callSink{}
	ctx = withCallSink(ctx, sink)
	logger := m.stageLogger(ctx)
	started := time.Now()
	logger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("operation", inv.op),
		logging.Bool("retrying", inv.retry),
	)

	commit, err := m.safeRun(ctx, inv, src, rec)

	m.mu.Lock()
	m.busy = false
	m.retrying = false
	if commit != nil {
		commit(m)
	}
	m.record.CallLog = append(m.record.CallLog, sink.drain()...)
	if err == nil {
		m.lastErr = nil
	}
	state := m.state
	m.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("stage interrupted", logging.String("operation", inv.op))
		} else {
			m.handleStageFailure(logger, inv.stage, inv.op, err)
		}
		m.emitSnapshot(EventStageFailed, inv.stage, err)
		return err
	}
	logger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("operation", inv.op),
		logging.String("next_state", string(state)),
		logging.Duration("stage_duration", time.Since(started)),
	)
	m.emitSnapshot(EventStateChanged, inv.stage, nil)
	return nil
}

// safeRun keeps a panicking stage from leaving the manager busy.
func (m *Manager) safeRun(ctx context.Context, inv invocation, src *imageio.Source, rec Record) (commit func(*Manager), err error) {
	defer func() {
		if r := recover(); r != nil {
			commit = nil
			err = services.Wrap(services.ErrService, inv.stage, inv.op, fmt.Sprintf("stage panicked: %v", r), nil)
		}
	}()
	return inv.run(ctx, src, rec)
}

// revision builds a stage revision. Conversational retries need feedback.
func revision[T any](stageName string, mode stage.Mode, prior T, feedback string) (stage.Revision[T], error) {
	switch mode {
	case stage.ModeFresh, "":
		return stage.Fresh[T](), nil
	case stage.ModeConversational:
		if strings.TrimSpace(feedback) == "" {
			return stage.Revision[T]{}, services.Wrap(services.ErrValidation, stageName, "retry", "conversational retry requires feedback", nil)
		}
		return stage.Conversational(prior, feedback), nil
	default:
		return stage.Revision[T]{}, services.Wrap(services.ErrValidation, stageName, "retry", fmt.Sprintf("unknown retry mode %q", mode), nil)
	}
}

func stateError(stageName, op, format string, args ...any) error {
	return services.Wrap(services.ErrState, stageName, op, fmt.Sprintf(format, args...), nil)
}

func requireState(stageName, op string, current State, allowed ...State) error {
	for _, s := range allowed {
		if current == s {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	return stateError(stageName, op, "state is %s, want %s", current, strings.Join(names, " or "))
}
