package workflow

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"partforge/internal/extraction"
	"partforge/internal/imageio"
	"partforge/internal/logging"
	"partforge/internal/overlay"
	"partforge/internal/packing"
	"partforge/internal/stage"
)

// Deps are the external collaborators. Critic and Segmenter are optional;
// Compositor defaults to the overlay renderer.
type Deps struct {
	Reasoner   stage.Reasoner
	Critic     stage.Reasoner
	Segmenter  extraction.Segmenter
	Compositor extraction.Compositor
}

// Settings tune stage calls and packing.
type Settings struct {
	BatchSize           int
	MaxRounds           int
	Temperature         float64
	CritiqueTemperature float64
	// Stream forwards response chunks to observers.
	Stream  bool
	Packing packing.Options
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:           extraction.DefaultBatchSize,
		MaxRounds:           extraction.DefaultMaxRounds,
		Temperature:         0.2,
		CritiqueTemperature: 0.2,
		Packing:             packing.Options{Algorithm: packing.AlgorithmMaxRects, CanvasSize: 1024, Padding: 4},
	}
}

// Manager owns the pipeline record and serializes stage invocations.
type Manager struct {
	reasoner  stage.Reasoner
	extractor *extraction.Extractor
	logger    *slog.Logger
	settings  Settings

	mu       sync.RWMutex
	runID    string
	state    State
	record   Record
	source   *imageio.Source
	busy     bool
	retrying bool
	lastErr  error

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	settings Settings
	runID    string
}

// WithSettings overrides DefaultSettings.
func WithSettings(s Settings) ManagerOption {
	return func(o *managerOptions) { o.settings = s }
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) ManagerOption {
	return func(o *managerOptions) {
		if id != "" {
			o.runID = id
		}
	}
}

// NewManager constructs a workflow manager in the idle state.
func NewManager(deps Deps, logger *slog.Logger, opts ...ManagerOption) *Manager {
	options := &managerOptions{settings: DefaultSettings(), runID: uuid.NewString()}
	for _, opt := range opts {
		opt(options)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		reasoner:  recordReasoner(deps.Reasoner),
		logger:    logging.NewComponentLogger(logger, "workflow"),
		settings:  options.settings,
		runID:     options.runID,
		state:     StateIdle,
		observers: make(map[int]Observer),
	}
	compositor := deps.Compositor
	if compositor == nil {
		compositor = overlay.New(overlay.DefaultStyle())
	}
	extractorOpts := []extraction.Option{
		extraction.WithCritic(recordReasoner(deps.Critic)),
		extraction.WithLogger(logger),
		extraction.WithBatchSize(m.settings.BatchSize),
		extraction.WithMaxRounds(m.settings.MaxRounds),
		extraction.WithTemperatures(m.settings.Temperature, m.settings.CritiqueTemperature),
		extraction.WithRoundObserver(m.onRound),
	}
	if deps.Segmenter != nil {
		extractorOpts = append(extractorOpts, extraction.WithSegmenter(recordingSegmenter{inner: deps.Segmenter}))
	}
	if m.settings.Stream {
		extractorOpts = append(extractorOpts, extraction.WithChunkObserver(func(unitID, chunk string) {
			m.emit(Event{Type: EventChunk, Stage: stage.NameExtraction, UnitID: unitID, Chunk: chunk})
		}))
	}
	m.extractor = extraction.New(m.reasoner, compositor, extractorOpts...)
	return m
}

// RunID returns the run identifier.
func (m *Manager) RunID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runID
}

// State returns the current pipeline state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Source returns the loaded source image, nil before discovery or restore.
func (m *Manager) Source() *imageio.Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

// Settings returns the manager's settings.
func (m *Manager) Settings() Settings {
	return m.settings
}

func (m *Manager) stageOptions(stageName string, temperature float64) stage.Options {
	opts := stage.Options{Temperature: temperature}
	if m.settings.Stream {
		opts.OnChunk = func(chunk string) {
			m.emit(Event{Type: EventChunk, Stage: stageName, Chunk: chunk})
		}
	}
	return opts
}
