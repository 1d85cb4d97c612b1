package preflight

import (
	"context"
	"fmt"
	"strings"

	"partforge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Options controls which checks contact the network.
type Options struct {
	// Online probes the reasoning and segmentation endpoints. Offline runs
	// only verify that credentials and URLs are configured.
	Online bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	results = append(results, checkLLM(ctx, "Reasoning LLM", cfg.GetLLM(), opts))
	if critiqueUsesDistinctLLM(cfg) {
		results = append(results, checkLLM(ctx, "Critique LLM", cfg.CritiqueLLM(), opts))
	}

	if cfg.Segmentation.Enabled {
		if opts.Online {
			results = append(results, CheckSegmentation(ctx, cfg.Segmentation.URL, cfg.Segmentation.APIKey))
		} else {
			results = append(results, configured("Segmentation", cfg.Segmentation.URL, "missing url"))
		}
	}
	return results
}

// Failed returns the failing results.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Summary joins failing results into one line, or returns "" when all passed.
func Summary(results []Result) string {
	failed := Failed(results)
	if len(failed) == 0 {
		return ""
	}
	parts := make([]string, len(failed))
	for i, r := range failed {
		parts[i] = fmt.Sprintf("%s: %s", r.Name, r.Detail)
	}
	return strings.Join(parts, "; ")
}

func checkLLM(ctx context.Context, name string, cfg config.LLMConfig, opts Options) Result {
	if opts.Online {
		return CheckLLM(ctx, name, cfg)
	}
	return configured(name, cfg.APIKey, "API key missing")
}

func configured(name, value, missing string) Result {
	if strings.TrimSpace(value) == "" {
		return Result{Name: name, Detail: missing}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}

// critiqueUsesDistinctLLM returns true when critique calls resolve to a
// different endpoint or key than the shared reasoning client.
func critiqueUsesDistinctLLM(cfg *config.Config) bool {
	primary := cfg.GetLLM()
	critique := cfg.CritiqueLLM()
	return primary.APIKey != critique.APIKey || primary.BaseURL != critique.BaseURL || primary.Model != critique.Model
}
