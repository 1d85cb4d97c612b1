package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"partforge/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("PARTFORGE_LLM_API_KEY", "test-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "partforge")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("expected LLM key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Extraction.BatchSize != 8 || cfg.Extraction.MaxRounds != 3 {
		t.Fatalf("unexpected extraction defaults: %+v", cfg.Extraction)
	}
	if cfg.Packing.Algorithm != "maxrects" || cfg.Packing.CanvasSize != 1024 {
		t.Fatalf("unexpected packing defaults: %+v", cfg.Packing)
	}
	if cfg.Segmentation.Enabled {
		t.Fatal("expected segmentation disabled by default")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
	if filepath.Dir(cfg.DatabasePath()) != cfg.Paths.DataDir {
		t.Fatalf("database should live in data dir, got %q", cfg.DatabasePath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "partforge.toml")

	type payload struct {
		LLM struct {
			APIKey string `toml:"api_key"`
			Model  string `toml:"model"`
		} `toml:"llm"`
		Packing struct {
			Algorithm  string `toml:"algorithm"`
			CanvasSize int    `toml:"canvas_size"`
		} `toml:"packing"`
		Extraction struct {
			MaxRounds int `toml:"max_rounds"`
		} `toml:"extraction"`
	}
	custom := payload{}
	custom.LLM.APIKey = "abc123"
	custom.LLM.Model = "vision/model"
	custom.Packing.Algorithm = " Max-Rects "
	custom.Packing.CanvasSize = 2048
	custom.Extraction.MaxRounds = 5
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.LLM.APIKey != "abc123" || cfg.LLM.Model != "vision/model" {
		t.Fatalf("expected llm overrides, got %+v", cfg.LLM)
	}
	if cfg.Packing.Algorithm != "maxrects" {
		t.Fatalf("expected algorithm alias to normalize, got %q", cfg.Packing.Algorithm)
	}
	if cfg.Packing.CanvasSize != 2048 {
		t.Fatalf("expected canvas 2048, got %d", cfg.Packing.CanvasSize)
	}
	if cfg.Extraction.MaxRounds != 5 {
		t.Fatalf("expected max rounds 5, got %d", cfg.Extraction.MaxRounds)
	}
	if cfg.Extraction.BatchSize != 8 {
		t.Fatalf("expected default batch size, got %d", cfg.Extraction.BatchSize)
	}
}

func TestFileKeyWinsOverEnvFallback(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "partforge.toml")
	if err := os.WriteFile(configPath, []byte("[llm]\napi_key = \"file-key\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("OPENROUTER_API_KEY", "env-key")
	t.Setenv("PARTFORGE_SEGMENTATION_API_KEY", "seg-env")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "file-key" {
		t.Fatalf("expected file key to win, got %q", cfg.LLM.APIKey)
	}
	if cfg.Segmentation.APIKey != "seg-env" {
		t.Fatalf("expected segmentation key from env, got %q", cfg.Segmentation.APIKey)
	}
}

func TestCritiqueFallsBackToLLM(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.APIKey = "key"
	got := cfg.CritiqueLLM()
	if got.Model != cfg.LLM.Model || got.Temperature != cfg.LLM.Temperature || got.APIKey != "key" {
		t.Fatalf("expected fallback to [llm], got %+v", got)
	}

	zero := 0.0
	cfg.Critique.Model = "critic"
	cfg.Critique.Temperature = &zero
	got = cfg.CritiqueLLM()
	if got.Model != "critic" || got.Temperature != 0 {
		t.Fatalf("expected critique overrides, got %+v", got)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_openrouter_api_key_here") {
		t.Fatalf("sample config missing placeholder key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "partforge") {
		t.Fatalf("expected data dir to contain partforge, got %q", cfg.Paths.DataDir)
	}
	if cfg.Extraction.BatchSize != 8 {
		t.Fatalf("expected sample batch size 8, got %d", cfg.Extraction.BatchSize)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Extraction.MaxRounds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive max rounds")
	}

	cfg = config.Default()
	cfg.Packing.CanvasSize = 1500
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported canvas size")
	}

	cfg = config.Default()
	cfg.Packing.Algorithm = "skyline"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}

	cfg = config.Default()
	cfg.Segmentation.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when segmentation enabled without url")
	}

	cfg = config.Default()
	cfg.LLM.Temperature = 3
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for temperature out of range")
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
