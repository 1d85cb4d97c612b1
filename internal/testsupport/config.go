// Package testsupport holds fixtures shared by package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"partforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// The LLM key is set so offline readiness checks pass.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.LLM.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithLLM points the reasoning service at baseURL with the given key.
func WithLLM(baseURL, apiKey string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.LLM.BaseURL = baseURL
		cfg.LLM.APIKey = apiKey
	}
}

// WithSegmentation enables the segmentation service.
func WithSegmentation(url, apiKey string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Segmentation.Enabled = true
		cfg.Segmentation.URL = url
		cfg.Segmentation.APIKey = apiKey
	}
}
