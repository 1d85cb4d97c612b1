package workflow

import (
	"context"
	"fmt"
	"slices"

	"partforge/internal/extraction"
	"partforge/internal/imageio"
	"partforge/internal/parts"
	"partforge/internal/services"
	"partforge/internal/stage"
)

// RunDiscovery starts a new pipeline for src. On success the record is
// replaced with the new manifest and the state moves to discovery, awaiting
// confirmation. On failure the previous record is kept.
func (m *Manager) RunDiscovery(ctx context.Context, src *imageio.Source) error {
	if src == nil || src.Image == nil {
		return services.Wrap(services.ErrValidation, stage.NameDiscovery, "run", "source image is required", nil)
	}
	return m.execute(ctx, invocation{
		stage: stage.NameDiscovery,
		op:    "run",
		run: func(ctx context.Context, _ *imageio.Source, _ Record) (func(*Manager), error) {
			manifest, _, err := stage.Discover(ctx, m.reasoner, stage.DiscoveryInput{
				Image:    src.Attachment(),
				Revision: stage.Fresh[parts.Manifest](),
				Options:  m.stageOptions(stage.NameDiscovery, m.settings.Temperature),
			})
			if err != nil {
				return nil, err
			}
			return func(m *Manager) {
				m.source = src
				m.record = Record{Source: sourceInfo(src), Manifest: &manifest}
				m.state = StateDiscovery
			}, nil
		},
	})
}

// RetryDiscovery re-runs discovery fresh or with feedback on the current
// manifest. Success clears extraction and assembly outputs.
func (m *Manager) RetryDiscovery(ctx context.Context, mode stage.Mode, feedback string) error {
	var rev stage.Revision[parts.Manifest]
	return m.execute(ctx, invocation{
		stage: stage.NameDiscovery,
		op:    "retry",
		retry: true,
		guard: func(_ State, rec *Record, src *imageio.Source) error {
			if rec.Manifest == nil || src == nil {
				return stateError(stage.NameDiscovery, "retry", "no discovery output to retry")
			}
			var err error
			rev, err = revision(stage.NameDiscovery, mode, *rec.Manifest, feedback)
			return err
		},
		run: func(ctx context.Context, src *imageio.Source, _ Record) (func(*Manager), error) {
			manifest, _, err := stage.Discover(ctx, m.reasoner, stage.DiscoveryInput{
				Image:    src.Attachment(),
				Revision: rev,
				Options:  m.stageOptions(stage.NameDiscovery, m.settings.Temperature),
			})
			if err != nil {
				return nil, err
			}
			return func(m *Manager) {
				m.record.Manifest = &manifest
				m.record.clearExtraction()
				m.state = StateDiscovery
			}, nil
		},
	})
}

// ConfirmDiscovery accepts the manifest and runs extraction for every unit.
// Failed units are recorded as extraction errors; the stage itself succeeds.
func (m *Manager) ConfirmDiscovery(ctx context.Context) error {
	return m.execute(ctx, invocation{
		stage: stage.NameExtraction,
		op:    "run",
		guard: func(state State, rec *Record, _ *imageio.Source) error {
			if err := requireState(stage.NameDiscovery, "confirm", state, StateDiscovery); err != nil {
				return err
			}
			if rec.Manifest == nil {
				return stateError(stage.NameDiscovery, "confirm", "no manifest to confirm")
			}
			return nil
		},
		run: func(ctx context.Context, src *imageio.Source, rec Record) (func(*Manager), error) {
			res, err := m.extractor.Run(ctx, src, rec.Manifest.Units)
			if err != nil {
				return nil, err
			}
			return func(m *Manager) {
				m.record.applyExtraction(res)
				m.state = StateExtraction
			}, nil
		},
	})
}

// RetryExtraction re-runs every unit. Conversational retries replay each
// unit's prior result with the shared feedback; units without a result start
// fresh. Success clears the assembly.
func (m *Manager) RetryExtraction(ctx context.Context, mode stage.Mode, feedback string) error {
	var revs extraction.Revisions
	return m.execute(ctx, invocation{
		stage: stage.NameExtraction,
		op:    "retry",
		retry: true,
		guard: func(state State, rec *Record, _ *imageio.Source) error {
			if err := requireState(stage.NameExtraction, "retry", state, StateExtraction, StateAssembly, StateComplete); err != nil {
				return err
			}
			if _, err := revision(stage.NameExtraction, mode, parts.Extraction{}, feedback); err != nil {
				return err
			}
			if mode != stage.ModeConversational {
				return nil
			}
			revs = make(extraction.Revisions, len(rec.Extractions))
			for _, e := range rec.Extractions {
				revs[e.ID] = stage.Conversational(e, feedback)
			}
			return nil
		},
		run: func(ctx context.Context, src *imageio.Source, rec Record) (func(*Manager), error) {
			res, err := m.extractor.RunRevised(ctx, src, rec.Manifest.Units, revs)
			if err != nil {
				return nil, err
			}
			return func(m *Manager) {
				m.record.applyExtraction(res)
				m.state = StateExtraction
			}, nil
		},
	})
}

// RetryUnit re-runs one extraction unit without touching the others. On
// success the unit's error is cleared and its result replaced. On failure a
// previously failed unit gets its retry count incremented and message
// updated; a previously successful unit keeps its result.
func (m *Manager) RetryUnit(ctx context.Context, id string, mode stage.Mode, feedback string) error {
	var (
		unit parts.Unit
		rev  stage.Revision[parts.Extraction]
	)
	return m.execute(ctx, invocation{
		stage: stage.NameExtraction,
		op:    "retry_unit",
		retry: true,
		guard: func(state State, rec *Record, _ *imageio.Source) error {
			if err := requireState(stage.NameExtraction, "retry_unit", state, StateExtraction, StateAssembly, StateComplete); err != nil {
				return err
			}
			if rec.Manifest == nil {
				return stateError(stage.NameExtraction, "retry_unit", "no manifest in the record")
			}
			var ok bool
			if unit, ok = rec.Manifest.Lookup(id); !ok {
				return services.Wrap(services.ErrNotFound, stage.NameExtraction, "retry_unit", fmt.Sprintf("unit %q is not in the manifest", id), nil)
			}
			prior, hasPrior := rec.Extraction(id)
			if mode == stage.ModeConversational && !hasPrior {
				return stateError(stage.NameExtraction, "retry_unit", "unit %q has no result to revise; retry it fresh", id)
			}
			var err error
			rev, err = revision(stage.NameExtraction, mode, prior, feedback)
			return err
		},
		run: func(ctx context.Context, src *imageio.Source, _ Record) (func(*Manager), error) {
			res, err := m.extractor.RunRevised(ctx, src, []parts.Unit{unit}, extraction.Revisions{id: rev})
			if err != nil {
				return nil, err
			}
			if len(res.Errors) > 0 {
				failure := res.Errors[0]
				commit := func(m *Manager) { m.record.failUnit(failure, res.Histories[id]) }
				return commit, services.Wrap(services.ErrService, stage.NameExtraction, "retry_unit",
					fmt.Sprintf("unit %s: %s", id, failure.Message), nil)
			}
			return func(m *Manager) {
				m.record.replaceUnit(res.Results[0], unitOrder(m.record.Manifest))
				if m.record.AssemblyStale && m.state == StateComplete {
					m.state = StateAssembly
				}
			}, nil
		},
	})
}

// ConfirmExtraction accepts the extraction results and runs assembly over
// the successful units.
func (m *Manager) ConfirmExtraction(ctx context.Context) error {
	return m.execute(ctx, invocation{
		stage: stage.NameAssembly,
		op:    "run",
		guard: func(state State, rec *Record, _ *imageio.Source) error {
			if err := requireState(stage.NameExtraction, "confirm", state, StateExtraction); err != nil {
				return err
			}
			if len(rec.Extractions) == 0 {
				return stateError(stage.NameExtraction, "confirm", "no successful extractions to assemble")
			}
			return nil
		},
		run: m.assemble(stage.Fresh[parts.Assembly]()),
	})
}

// RetryAssembly re-runs assembly. Extraction outputs are kept.
func (m *Manager) RetryAssembly(ctx context.Context, mode stage.Mode, feedback string) error {
	var rev stage.Revision[parts.Assembly]
	return m.execute(ctx, invocation{
		stage: stage.NameAssembly,
		op:    "retry",
		retry: true,
		guard: func(state State, rec *Record, _ *imageio.Source) error {
			if rec.Assembly == nil {
				return stateError(stage.NameAssembly, "retry", "no assembly output to retry")
			}
			if len(rec.Extractions) == 0 {
				return stateError(stage.NameAssembly, "retry", "no successful extractions to assemble")
			}
			var err error
			rev, err = revision(stage.NameAssembly, mode, *rec.Assembly, feedback)
			return err
		},
		run: func(ctx context.Context, src *imageio.Source, rec Record) (func(*Manager), error) {
			return m.assemble(rev)(ctx, src, rec)
		},
	})
}

func (m *Manager) assemble(rev stage.Revision[parts.Assembly]) func(context.Context, *imageio.Source, Record) (func(*Manager), error) {
	return func(ctx context.Context, src *imageio.Source, rec Record) (func(*Manager), error) {
		assembly, _, err := stage.Assemble(ctx, m.reasoner, stage.AssemblyInput{
			Image:       src.Attachment(),
			Manifest:    *rec.Manifest,
			Extractions: rec.Extractions,
			Revision:    rev,
			Options:     m.stageOptions(stage.NameAssembly, m.settings.Temperature),
		})
		if err != nil {
			return nil, err
		}
		return func(m *Manager) {
			m.record.Assembly = &assembly
			m.record.AssemblyStale = false
			m.record.Atlas = nil
			m.state = StateAssembly
		}, nil
	}
}

func (r *Record) clearExtraction() {
	r.Extractions = nil
	r.ExtractionErrors = nil
	r.Histories = nil
	r.Assembly = nil
	r.AssemblyStale = false
	r.Atlas = nil
}

func (r *Record) applyExtraction(res extraction.Result) {
	r.clearExtraction()
	r.Extractions = res.Extractions()
	r.ExtractionErrors = res.Errors
	r.Histories = res.Histories
}

func (r *Record) replaceUnit(outcome extraction.Outcome, order map[string]int) {
	if i := r.unitError(outcome.ID); i >= 0 {
		r.ExtractionErrors = slices.Delete(r.ExtractionErrors, i, i+1)
	}
	if i := slices.IndexFunc(r.Extractions, func(e parts.Extraction) bool { return e.ID == outcome.ID }); i >= 0 {
		r.Extractions[i] = outcome.Extraction
	} else {
		r.Extractions = append(r.Extractions, outcome.Extraction)
		slices.SortStableFunc(r.Extractions, func(a, b parts.Extraction) int { return order[a.ID] - order[b.ID] })
	}
	if r.Histories == nil {
		r.Histories = make(map[string][]extraction.Round)
	}
	r.Histories[outcome.ID] = outcome.Rounds
	if r.Assembly != nil {
		r.AssemblyStale = true
		r.Atlas = nil
	}
}

func (r *Record) failUnit(failure parts.UnitError, rounds []extraction.Round) {
	i := r.unitError(failure.ID)
	if i < 0 {
		return
	}
	r.ExtractionErrors[i].Message = failure.Message
	r.ExtractionErrors[i].RetryCount++
	if r.Histories == nil {
		r.Histories = make(map[string][]extraction.Round)
	}
	r.Histories[failure.ID] = rounds
}

func unitOrder(manifest *parts.Manifest) map[string]int {
	order := make(map[string]int)
	if manifest == nil {
		return order
	}
	for i, u := range manifest.Units {
		order[u.ID] = i
	}
	return order
}
