package extraction

import (
	"context"
	"log/slog"
	"strings"

	"partforge/internal/geometry"
	"partforge/internal/imageio"
	"partforge/internal/logging"
	"partforge/internal/parts"
	"partforge/internal/services"
	"partforge/internal/services/llm"
	"partforge/internal/services/segmentation"
	"partforge/internal/stage"
)

// segmentationConfidence is assigned to outlines traced from masks.
const segmentationConfidence = 0.5

const defaultCritique = "The candidate does not match the part. Fit the outline more closely."

// Source names where a round's candidate came from.
type Source string

const (
	SourceReasoning    Source = "reasoning"
	SourceSegmentation Source = "segmentation"
)

// Round records one propose-composite-critique cycle.
type Round struct {
	Number         int            `json:"round"`
	Source         Source         `json:"source"`
	PromptDigest   string         `json:"prompt_digest,omitempty"`
	CritiqueDigest string         `json:"critique_digest,omitempty"`
	Verdict        stage.Status   `json:"verdict,omitempty"`
	Feedback       string         `json:"feedback,omitempty"`
	Shape          geometry.Shape `json:"shape"`
	Confidence     float64        `json:"confidence"`
	// Fallback explains why segmentation was skipped for a mask unit.
	Fallback string `json:"fallback,omitempty"`
}

// Outcome is one unit's final candidate and its round history. Converged is
// false when the round cap was reached without an acceptable verdict.
type Outcome struct {
	ID         string           `json:"id"`
	Extraction parts.Extraction `json:"extraction"`
	Rounds     []Round          `json:"rounds"`
	Converged  bool             `json:"converged"`
}

// Extract runs the self-correction loop for one unit. The revision applies
// to the first proposal only; later rounds are driven by critique feedback.
// On failure the returned outcome still carries the completed rounds.
func (e *Extractor) Extract(ctx context.Context, src *imageio.Source, unit parts.Unit, rev stage.Revision[parts.Extraction]) (Outcome, error) {
	out := Outcome{ID: unit.ID}
	if err := e.validate(src); err != nil {
		return out, err
	}
	ctx = services.WithUnitID(services.WithStage(ctx, stage.NameExtraction), unit.ID)
	logger := logging.WithContext(ctx, e.logger)

	var (
		critique  string
		composite *llm.Image
	)
	for n := 1; n <= e.maxRounds; n++ {
		round := Round{Number: n}
		candidate, err := e.candidate(ctx, src, unit, rev, n, critique, composite, &round)
		if err != nil {
			e.logFailure(logger, "unit proposal failed", n, err)
			return out, err
		}
		round.Shape = candidate.Shape
		round.Confidence = candidate.Confidence
		out.Extraction = candidate

		img, err := e.compositor.Composite(src.Image, candidate.Shape)
		if err != nil {
			out.Rounds = append(out.Rounds, round)
			return out, services.Wrap(services.ErrService, stage.NameExtraction, "composite", "render candidate overlay", err)
		}
		verdict, trace, err := stage.Critique(ctx, e.critic, stage.CritiqueInput{
			Composite: img,
			Unit:      unit,
			Candidate: candidate,
			Options:   e.options(unit.ID, e.critiqueTemperature),
		})
		round.CritiqueDigest = trace.PromptDigest
		if err != nil {
			out.Rounds = append(out.Rounds, round)
			e.logFailure(logger, "unit critique failed", n, err)
			return out, err
		}
		round.Verdict = verdict.Status
		round.Feedback = verdict.Feedback
		out.Rounds = append(out.Rounds, round)
		if e.onRound != nil {
			e.onRound(unit.ID, round)
		}
		logger.Debug("unit round complete",
			logging.String(logging.FieldEventType, "unit_round"),
			logging.Int(logging.FieldRound, n),
			logging.String("source", string(round.Source)),
			logging.String("shape", string(candidate.Shape.Kind())),
			logging.String("verdict", string(verdict.Status)),
		)
		if verdict.Acceptable() {
			out.Converged = true
			break
		}
		critique = strings.TrimSpace(verdict.Feedback)
		if critique == "" {
			critique = defaultCritique
		}
		composite = &img
	}
	logger.Info("unit extracted",
		logging.String(logging.FieldEventType, "unit_complete"),
		logging.Int("rounds", len(out.Rounds)),
		logging.Bool("converged", out.Converged),
		logging.Float64("confidence", out.Extraction.Confidence),
	)
	return out, nil
}

func (e *Extractor) logFailure(logger *slog.Logger, msg string, round int, err error) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "unit_failure"),
		logging.Int(logging.FieldRound, round),
	}
	attrs = append(attrs, logging.FailureAttrs(err)...)
	logger.Warn(msg, logging.Args(attrs...)...)
}

// candidate produces the proposal for round n, trying segmentation first for
// mask units on a fresh first round.
func (e *Extractor) candidate(ctx context.Context, src *imageio.Source, unit parts.Unit, rev stage.Revision[parts.Extraction], n int, critique string, composite *llm.Image, round *Round) (parts.Extraction, error) {
	if n == 1 && unit.Strategy == parts.StrategyMask && !rev.IsConversational() {
		if e.segmenter == nil {
			round.Fallback = "segmentation disabled"
		} else {
			ex, err := e.segment(ctx, src, unit)
			if err == nil {
				round.Source = SourceSegmentation
				return ex, nil
			}
			round.Fallback = err.Error()
			logging.WarnWithContext(logging.WithContext(ctx, e.logger), "segmentation failed; falling back to reasoning proposal", "segmentation_fallback",
				logging.String(logging.FieldErrorHint, "check the segmentation service"),
				logging.String(logging.FieldImpact, "unit geometry comes from a reasoning proposal"),
				logging.Error(err),
			)
		}
	}
	round.Source = SourceReasoning
	in := stage.ProposalInput{
		Image:    src.Attachment(),
		Unit:     unit,
		Critique: critique,
		Options:  e.options(unit.ID, e.temperature),
	}
	if n == 1 {
		in.Revision = rev
	} else {
		in.Composite = composite
	}
	ex, trace, err := stage.Propose(ctx, e.proposer, in)
	round.PromptDigest = trace.PromptDigest
	return ex, err
}

func (e *Extractor) segment(ctx context.Context, src *imageio.Source, unit parts.Unit) (parts.Extraction, error) {
	outline, err := e.segmenter.Segment(ctx, segmentation.Request{MIME: src.MIME, Image: src.Data, Box: unit.RoughBox})
	if err != nil {
		return parts.Extraction{}, err
	}
	shape := geometry.Of(outline.Clamp())
	if err := shape.Valid(); err != nil {
		return parts.Extraction{}, services.Wrap(services.ErrService, stage.NameExtraction, "segment", "traced outline is invalid", err)
	}
	bbox := shape.Bounds().Clamp()
	if !bbox.WellFormed() {
		return parts.Extraction{}, services.Wrap(services.ErrService, stage.NameExtraction, "segment", "traced outline is degenerate", nil)
	}
	return parts.Extraction{ID: unit.ID, Shape: shape, BBox: bbox, Confidence: segmentationConfidence}, nil
}
