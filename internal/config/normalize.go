package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizeSegmentation()
	c.normalizeExtraction()
	c.normalizePacking()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("PARTFORGE_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.Critique.Model = strings.TrimSpace(c.Critique.Model)
}

func (c *Config) normalizeSegmentation() {
	c.Segmentation.URL = strings.TrimSpace(c.Segmentation.URL)
	c.Segmentation.APIKey = strings.TrimSpace(c.Segmentation.APIKey)
	if c.Segmentation.APIKey == "" {
		if value, ok := os.LookupEnv("PARTFORGE_SEGMENTATION_API_KEY"); ok {
			c.Segmentation.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Segmentation.TimeoutSeconds <= 0 {
		c.Segmentation.TimeoutSeconds = defaultSegmentationTimeout
	}
	if c.Segmentation.Tolerance <= 0 {
		c.Segmentation.Tolerance = defaultSegmentationTol
	}
}

func (c *Config) normalizeExtraction() {
	if c.Extraction.BatchSize <= 0 {
		c.Extraction.BatchSize = defaultBatchSize
	}
	if c.Extraction.MaxRounds <= 0 {
		c.Extraction.MaxRounds = defaultMaxRounds
	}
}

func (c *Config) normalizePacking() {
	c.Packing.Algorithm = strings.ToLower(strings.TrimSpace(c.Packing.Algorithm))
	switch c.Packing.Algorithm {
	case "":
		c.Packing.Algorithm = defaultPackingAlgorithm
	case "max_rects", "max-rects", "guillotine":
		c.Packing.Algorithm = "maxrects"
	}
	if c.Packing.CanvasSize == 0 {
		c.Packing.CanvasSize = defaultCanvasSize
	}
	if c.Packing.Padding < 0 {
		c.Packing.Padding = 0
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
