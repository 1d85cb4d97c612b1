package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable. Credentials are not required
// here so that offline commands (pack, validate, show) work without them;
// preflight reports missing keys before any service call.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateSegmentation(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validatePacking(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLLM() error {
	if strings.TrimSpace(c.LLM.Model) == "" {
		return errors.New("llm.model must be set")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	if c.Critique.Temperature != nil && (*c.Critique.Temperature < 0 || *c.Critique.Temperature > 2) {
		return errors.New("critique.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateSegmentation() error {
	if !c.Segmentation.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Segmentation.URL) == "" {
		return errors.New("segmentation.url must be set when segmentation.enabled is true")
	}
	return nil
}

func (c *Config) validateExtraction() error {
	return ensurePositiveMap(map[string]int{
		"extraction.batch_size": c.Extraction.BatchSize,
		"extraction.max_rounds": c.Extraction.MaxRounds,
	})
}

func (c *Config) validatePacking() error {
	switch c.Packing.Algorithm {
	case "row", "grid", "maxrects":
	default:
		return fmt.Errorf("packing.algorithm must be one of row, grid, maxrects (got %q)", c.Packing.Algorithm)
	}
	if !slices.Contains(CanvasSizes, c.Packing.CanvasSize) {
		return fmt.Errorf("packing.canvas_size must be one of %v (got %d)", CanvasSizes, c.Packing.CanvasSize)
	}
	if c.Packing.Padding*2 >= c.Packing.CanvasSize {
		return errors.New("packing.padding leaves no usable canvas")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
