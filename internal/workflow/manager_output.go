package workflow

import (
	"context"
	"fmt"

	"partforge/internal/atlas"
	"partforge/internal/hierarchy"
	"partforge/internal/logging"
	"partforge/internal/packing"
	"partforge/internal/services"
	"partforge/internal/stage"
)

// Validate checks the assembled hierarchy. Issues are returned as data.
func (m *Manager) Validate(ctx context.Context) (hierarchy.Report, error) {
	m.mu.RLock()
	assembly := m.record.Assembly
	runID := m.runID
	m.mu.RUnlock()
	if assembly == nil {
		return hierarchy.Report{}, stateError("validation", "validate", "no assembly output to validate")
	}
	report := hierarchy.Validate(assembly.Parts)
	m.logIssues(withStageContext(ctx, runID, "validation"), report)
	return report, nil
}

// ConfirmAssembly accepts the assembly and completes the pipeline. Structural
// errors block completion unless force is set; the report is returned either
// way.
func (m *Manager) ConfirmAssembly(ctx context.Context, force bool) (hierarchy.Report, error) {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return hierarchy.Report{}, errBusy
	}
	if err := requireState(stage.NameAssembly, "confirm", m.state, StateAssembly); err != nil {
		m.mu.Unlock()
		return hierarchy.Report{}, err
	}
	if m.record.Assembly == nil {
		m.mu.Unlock()
		return hierarchy.Report{}, stateError(stage.NameAssembly, "confirm", "no assembly output to confirm")
	}
	if m.record.AssemblyStale && !force {
		m.mu.Unlock()
		return hierarchy.Report{}, stateError(stage.NameAssembly, "confirm", "extractions changed after assembly; retry assembly or force")
	}
	report := hierarchy.Validate(m.record.Assembly.Parts)
	if report.HasErrors() && !force {
		m.mu.Unlock()
		err := services.Wrap(services.ErrValidation, stage.NameAssembly, "confirm",
			fmt.Sprintf("hierarchy has %d structural error(s)", len(report.Errors())), nil)
		m.logIssues(withStageContext(ctx, m.RunID(), stage.NameAssembly), report)
		return report, err
	}
	m.state = StateComplete
	runID := m.runID
	m.mu.Unlock()

	ctx = withStageContext(ctx, runID, stage.NameAssembly)
	m.logIssues(ctx, report)
	m.stageLogger(ctx).Info("pipeline complete",
		logging.String(logging.FieldEventType, "pipeline_complete"),
		logging.Int("errors", len(report.Errors())),
		logging.Int("warnings", len(report.Warnings())),
	)
	m.emitSnapshot(EventStateChanged, stage.NameAssembly, nil)
	return report, nil
}

// Pack lays the assembled parts out on the atlas canvas and stores the
// result in the record. The state is unchanged. When some parts did not fit
// the atlas is still stored and services.ErrOverflow is returned with it.
func (m *Manager) Pack(ctx context.Context, opts packing.Options) (atlas.Atlas, error) {
	m.mu.RLock()
	assembly := m.record.Assembly
	info := m.record.Source
	runID := m.runID
	m.mu.RUnlock()
	if assembly == nil || info == nil {
		return atlas.Atlas{}, stateError("packing", "pack", "no assembly output to pack")
	}

	a, err := atlas.Build(assembly.Parts, info.Width, info.Height, opts)
	if err != nil {
		return atlas.Atlas{}, err
	}
	logger := m.stageLogger(withStageContext(ctx, runID, "packing"))
	overflow := a.Layout.OverflowError()
	if overflow != nil {
		logging.WarnWithContext(logger, "packing overflow", "packing_overflow",
			logging.String("algorithm", string(opts.Algorithm)),
			logging.Int("canvas_size", opts.CanvasSize),
			logging.Int("overflow", len(a.Layout.Overflow)),
			logging.String(logging.FieldErrorHint, "use the larger canvas or another algorithm"),
			logging.String(logging.FieldImpact, "overflowing parts overlap at the canvas origin"),
		)
	} else {
		logger.Info("parts packed",
			logging.String(logging.FieldEventType, "packing_complete"),
			logging.String("algorithm", string(opts.Algorithm)),
			logging.Int("canvas_size", opts.CanvasSize),
			logging.Int("parts", len(a.Parts)),
		)
	}

	m.mu.Lock()
	if m.record.Assembly == assembly {
		m.record.Atlas = &a
	}
	m.mu.Unlock()
	return a, overflow
}

func (m *Manager) logIssues(ctx context.Context, report hierarchy.Report) {
	logger := m.stageLogger(ctx)
	for _, issue := range report.Issues {
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "validation_issue"),
			logging.String("severity", string(issue.Severity)),
			logging.String("code", issue.Code),
			logging.String("part_id", issue.PartID),
		}
		if issue.Severity == hierarchy.SeverityError {
			logger.Warn(issue.Message, logging.Args(attrs...)...)
			continue
		}
		logger.Debug(issue.Message, logging.Args(attrs...)...)
	}
}
