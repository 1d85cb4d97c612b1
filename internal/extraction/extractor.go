package extraction

import (
	"context"
	"image"
	"log/slog"

	"partforge/internal/geometry"
	"partforge/internal/imageio"
	"partforge/internal/logging"
	"partforge/internal/services"
	"partforge/internal/services/llm"
	"partforge/internal/services/segmentation"
	"partforge/internal/stage"
)

const (
	// DefaultBatchSize bounds concurrent units per batch.
	DefaultBatchSize = 8
	// DefaultMaxRounds caps the self-correction loop.
	DefaultMaxRounds = 3
)

// Compositor renders a candidate over the source image.
type Compositor interface {
	Composite(base image.Image, shape geometry.Shape) (llm.Image, error)
}

// Segmenter produces an outline from a dense mask.
type Segmenter interface {
	Segment(ctx context.Context, req segmentation.Request) (geometry.Outline, error)
}

// Extractor runs the self-correction loop and the batched pool.
type Extractor struct {
	proposer   stage.Reasoner
	critic     stage.Reasoner
	compositor Compositor
	segmenter  Segmenter
	logger     *slog.Logger

	batchSize           int
	maxRounds           int
	temperature         float64
	critiqueTemperature float64

	onRound func(unitID string, round Round)
	onChunk func(unitID, chunk string)
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithCritic uses a separate reasoner for critique calls.
func WithCritic(r stage.Reasoner) Option {
	return func(e *Extractor) {
		if r != nil {
			e.critic = r
		}
	}
}

// WithSegmenter enables mask segmentation for units that request it.
func WithSegmenter(s Segmenter) Option {
	return func(e *Extractor) { e.segmenter = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBatchSize overrides the batch size.
func WithBatchSize(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxRounds overrides the round cap.
func WithMaxRounds(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxRounds = n
		}
	}
}

// WithTemperatures sets sampling temperatures for proposal and critique.
func WithTemperatures(propose, critique float64) Option {
	return func(e *Extractor) {
		e.temperature = propose
		e.critiqueTemperature = critique
	}
}

// WithRoundObserver is called after every completed round. It may be called
// concurrently for different units.
func WithRoundObserver(fn func(unitID string, round Round)) Option {
	return func(e *Extractor) { e.onRound = fn }
}

// WithChunkObserver receives streamed response chunks. It may be called
// concurrently for different units.
func WithChunkObserver(fn func(unitID, chunk string)) Option {
	return func(e *Extractor) { e.onChunk = fn }
}

// New builds an Extractor. proposer also serves critiques unless WithCritic
// is given.
func New(proposer stage.Reasoner, compositor Compositor, opts ...Option) *Extractor {
	e := &Extractor{
		proposer:   proposer,
		critic:     proposer,
		compositor: compositor,
		logger:     logging.NewNop(),
		batchSize:  DefaultBatchSize,
		maxRounds:  DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "extraction")
	return e
}

// BatchSize reports the configured batch size.
func (e *Extractor) BatchSize() int { return e.batchSize }

// MaxRounds reports the configured round cap.
func (e *Extractor) MaxRounds() int { return e.maxRounds }

func (e *Extractor) options(unitID string, temperature float64) stage.Options {
	opts := stage.Options{Temperature: temperature}
	if e.onChunk != nil {
		opts.OnChunk = func(chunk string) { e.onChunk(unitID, chunk) }
	}
	return opts
}

func (e *Extractor) validate(src *imageio.Source) error {
	if e.proposer == nil {
		return services.Wrap(services.ErrConfiguration, stage.NameExtraction, "extract", "reasoning service unavailable", nil)
	}
	if e.compositor == nil {
		return services.Wrap(services.ErrConfiguration, stage.NameExtraction, "extract", "compositor unavailable", nil)
	}
	if src == nil || src.Image == nil {
		return services.Wrap(services.ErrValidation, stage.NameExtraction, "extract", "source image is required", nil)
	}
	return nil
}
