package extraction

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"partforge/internal/imageio"
	"partforge/internal/logging"
	"partforge/internal/parts"
	"partforge/internal/services"
	"partforge/internal/stage"
)

// Result partitions a pool run. Results and Errors follow manifest order.
// Histories holds the rounds of every unit, failed ones included.
type Result struct {
	Results   []Outcome          `json:"results"`
	Errors    []parts.UnitError  `json:"errors"`
	Histories map[string][]Round `json:"histories"`
}

// Extractions returns the successful extractions in manifest order.
func (r Result) Extractions() []parts.Extraction {
	out := make([]parts.Extraction, len(r.Results))
	for i, o := range r.Results {
		out[i] = o.Extraction
	}
	return out
}

type slot struct {
	outcome Outcome
	err     error
}

// Revisions maps unit ids to the revision applied to their first proposal.
// Units without an entry start fresh.
type Revisions map[string]stage.Revision[parts.Extraction]

// Run extracts every unit in batches. A batch starts only after the previous
// one has fully settled; unit failures, panics included, are isolated.
func (e *Extractor) Run(ctx context.Context, src *imageio.Source, units []parts.Unit) (Result, error) {
	return e.RunRevised(ctx, src, units, nil)
}

// RunRevised is Run with per-unit revisions.
func (e *Extractor) RunRevised(ctx context.Context, src *imageio.Source, units []parts.Unit, revs Revisions) (Result, error) {
	if err := e.validate(src); err != nil {
		return Result{}, err
	}
	logger := logging.WithContext(ctx, e.logger)
	slots := make([]slot, len(units))
	for start := 0; start < len(units); start += e.batchSize {
		end := min(start+e.batchSize, len(units))
		logger.Debug("extraction batch started",
			logging.String(logging.FieldEventType, "batch_start"),
			logging.Int("batch_start", start),
			logging.Int("batch_size", end-start),
		)
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				slots[i] = e.safeExtract(ctx, src, units[i], revs.lookup(units[i].ID))
				return nil
			})
		}
		_ = g.Wait()
	}

	res := Result{Histories: make(map[string][]Round, len(units))}
	for i, s := range slots {
		id := units[i].ID
		res.Histories[id] = s.outcome.Rounds
		if s.err != nil {
			res.Errors = append(res.Errors, parts.UnitError{ID: id, Message: unitMessage(s.err)})
			continue
		}
		res.Results = append(res.Results, s.outcome)
	}
	if len(res.Errors) > 0 {
		logging.WarnWithContext(logger, "extraction finished with failed units", "partial_failure",
			logging.Int("failed", len(res.Errors)),
			logging.Int("succeeded", len(res.Results)),
			logging.String(logging.FieldErrorHint, "retry failed units individually"),
			logging.String(logging.FieldImpact, "assembly will only see successful units"),
		)
	}
	return res, nil
}

func (r Revisions) lookup(id string) stage.Revision[parts.Extraction] {
	if rev, ok := r[id]; ok {
		return rev
	}
	return stage.Fresh[parts.Extraction]()
}

func (e *Extractor) safeExtract(ctx context.Context, src *imageio.Source, unit parts.Unit, rev stage.Revision[parts.Extraction]) (s slot) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("unit extraction panicked",
				logging.String(logging.FieldEventType, "unit_panic"),
				logging.String(logging.FieldUnitID, unit.ID),
				logging.Any("panic", r),
				logging.String("stack_trace", string(debug.Stack())),
			)
			s.outcome = Outcome{ID: unit.ID}
			s.err = services.Wrap(services.ErrService, stage.NameExtraction, "extract", fmt.Sprintf("unit panicked: %v", r), nil)
		}
	}()
	outcome, err := e.Extract(ctx, src, unit, rev)
	return slot{outcome: outcome, err: err}
}

func unitMessage(err error) string {
	details := services.Details(err)
	if details.Message == "" {
		return err.Error()
	}
	if details.Cause != "" {
		return details.Message + ": " + details.Cause
	}
	return details.Message
}
