package config

const (
	defaultStorageDriver = "sqlite"
	defaultAPIListen     = ":8787"

	defaultClientAPITarget = "http://localhost:8787"

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "embeddinggemma"
	defaultEmbeddingDimensions = 768

	defaultExtractionProvider      = "ollama"
	defaultExtractionMinConfidence = 0.6
	defaultExtractionContextChars  = 500

	defaultBufferWindowSize      = 8
	defaultBufferStepSize        = 4
	defaultBufferMinMessageChars = 10
	defaultBufferFlushTimeout    = "5m"
	defaultBufferSweepInterval   = "60s"

	defaultEventStreamProvider = "none"
	defaultEventStreamTopic    = "recall.facts"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Extraction: ExtractionConfig{
			Provider:      defaultExtractionProvider,
			MinConfidence: float64Ptr(defaultExtractionMinConfidence),
			ContextChars:  defaultExtractionContextChars,
		},
		Buffer: BufferConfig{
			WindowSize:      defaultBufferWindowSize,
			StepSize:        defaultBufferStepSize,
			MinMessageChars: defaultBufferMinMessageChars,
			FlushTimeout:    defaultBufferFlushTimeout,
			SweepInterval:   defaultBufferSweepInterval,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStreamProvider,
			Topic:    defaultEventStreamTopic,
		},
	}
}

func float64Ptr(f float64) *float64 {
	return &f
}
