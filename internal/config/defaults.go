package config

const (
	defaultConfigPath          = "~/.config/partforge/config.toml"
	defaultDataDir             = "~/.local/share/partforge"
	defaultLogDir              = "~/.local/share/partforge/logs"
	defaultLLMBaseURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel            = "google/gemini-3-flash-preview"
	defaultLLMReferer          = "https://github.com/partforge/partforge"
	defaultLLMTitle            = "partforge"
	defaultLLMTimeoutSeconds   = 120
	defaultLLMTemperature      = 0.2
	defaultSegmentationTimeout = 60
	defaultSegmentationTol     = 1.5
	defaultBatchSize           = 8
	defaultMaxRounds           = 3
	defaultPackingAlgorithm    = "maxrects"
	defaultCanvasSize          = 1024
	defaultPadding             = 4
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// CanvasSizes lists the supported square atlas sizes.
var CanvasSizes = []int{1024, 2048}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			Temperature:    defaultLLMTemperature,
		},
		Segmentation: Segmentation{
			TimeoutSeconds: defaultSegmentationTimeout,
			Tolerance:      defaultSegmentationTol,
		},
		Extraction: Extraction{
			BatchSize: defaultBatchSize,
			MaxRounds: defaultMaxRounds,
		},
		Packing: Packing{
			Algorithm:  defaultPackingAlgorithm,
			CanvasSize: defaultCanvasSize,
			Padding:    defaultPadding,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
