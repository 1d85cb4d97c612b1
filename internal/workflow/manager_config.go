package workflow

import (
	"log/slog"

	"partforge/internal/config"
	"partforge/internal/packing"
	"partforge/internal/services/llm"
	"partforge/internal/services/segmentation"
	"partforge/internal/stage"
)

// SettingsFromConfig derives manager settings from the configuration.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	algorithm, err := packing.ParseAlgorithm(cfg.Packing.Algorithm)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		BatchSize:           cfg.Extraction.BatchSize,
		MaxRounds:           cfg.Extraction.MaxRounds,
		Temperature:         cfg.GetLLM().Temperature,
		CritiqueTemperature: cfg.CritiqueLLM().Temperature,
		Stream:              cfg.LLM.Stream,
		Packing: packing.Options{
			Algorithm:  algorithm,
			CanvasSize: cfg.Packing.CanvasSize,
			Padding:    cfg.Packing.Padding,
		},
	}, nil
}

// DepsFromConfig builds the reasoning, critique and segmentation clients.
// The critique client is only separate when its model or temperature
// differs.
func DepsFromConfig(cfg *config.Config) (Deps, error) {
	primary := cfg.GetLLM()
	deps := Deps{Reasoner: llmClient(primary)}
	if critique := cfg.CritiqueLLM(); critique != primary {
		deps.Critic = llmClient(critique)
	}
	if cfg.Segmentation.Enabled {
		client, err := segmentation.NewClient(segmentation.Config{
			URL:            cfg.Segmentation.URL,
			APIKey:         cfg.Segmentation.APIKey,
			TimeoutSeconds: cfg.Segmentation.TimeoutSeconds,
			Tolerance:      cfg.Segmentation.Tolerance,
		})
		if err != nil {
			return Deps{}, err
		}
		deps.Segmenter = client
	}
	return deps, nil
}

// llmClient makes exactly one HTTP attempt per call so that every request is
// visible in the call log; retries are the caller's decision.
func llmClient(c config.LLMConfig) stage.Reasoner {
	return llm.NewClient(llm.Config{
		APIKey:         c.APIKey,
		BaseURL:        c.BaseURL,
		Model:          c.Model,
		Referer:        c.Referer,
		Title:          c.Title,
		TimeoutSeconds: c.TimeoutSeconds,
	}, llm.WithRetryMaxAttempts(1))
}

// NewFromConfig constructs a manager wired to the configured services.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	deps, err := DepsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewManager(deps, logger, append([]ManagerOption{WithSettings(settings)}, opts...)...), nil
}
