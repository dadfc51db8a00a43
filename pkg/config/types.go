package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config represents the persistent recall configuration stored as config.toml
// in the .recall/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	Client      ClientConfig      `toml:"client"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Extraction  ExtractionConfig  `toml:"extraction"`
	Buffer      BufferConfig      `toml:"buffer"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// StorageConfig selects and configures the graph store backend.
type StorageConfig struct {
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// recall server (e.g. recall search, recall facts, recall stats).
// Values are full URLs (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// ExtractionConfig holds the fact extraction LLM settings and the
// ingestion thresholds applied to its output.
type ExtractionConfig struct {
	Provider     string `toml:"provider,omitempty"`
	Model        string `toml:"model,omitempty"`
	Target       string `toml:"target,omitempty"`
	APIKey       string `toml:"api_key,omitempty"`
	ContextChars uint   `toml:"context_chars,omitempty"`

	// MinConfidence is a pointer so an explicit 0 (keep every fact) survives
	// default filling.
	MinConfidence *float64 `toml:"min_confidence,omitempty"`
}

// MinConfidenceOrDefault returns the configured threshold, or the default
// when none is set.
func (e ExtractionConfig) MinConfidenceOrDefault() float64 {
	if e.MinConfidence == nil {
		return defaultExtractionMinConfidence
	}
	return *e.MinConfidence
}

// BufferConfig holds the conversation window settings. Durations use Go
// duration syntax ("5m", "60s").
type BufferConfig struct {
	WindowSize      uint   `toml:"window_size,omitempty"`
	StepSize        uint   `toml:"step_size,omitempty"`
	MinMessageChars uint   `toml:"min_message_chars,omitempty"`
	FlushTimeout    string `toml:"flush_timeout,omitempty"`
	SweepInterval   string `toml:"sweep_interval,omitempty"`
}

// FlushTimeoutDuration parses FlushTimeout. An empty value yields zero.
func (b BufferConfig) FlushTimeoutDuration() (time.Duration, error) {
	return parseDuration("buffer.flush_timeout", b.FlushTimeout)
}

// SweepIntervalDuration parses SweepInterval. An empty value yields zero.
func (b BufferConfig) SweepIntervalDuration() (time.Duration, error) {
	return parseDuration("buffer.sweep_interval", b.SweepInterval)
}

// EventStreamConfig holds fact event publishing settings.
type EventStreamConfig struct {
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
}

func parseDuration(key, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return d, nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func durationKey(name string, field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			if _, err := parseDuration(name, v); err != nil {
				return err
			}
			*field(c) = v
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver":       stringKey(func(c *Config) *string { return &c.Storage.Driver }),
	"storage.sqlite_path":  stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),
	"storage.postgres_dsn": stringKey(func(c *Config) *string { return &c.Storage.PostgresDSN }),

	"api.listen":        stringKey(func(c *Config) *string { return &c.API.Listen }),
	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),

	"embedding.provider":   stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":     stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":      stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.api_key":    stringKey(func(c *Config) *string { return &c.Embedding.APIKey }),
	"embedding.dimensions": uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),

	"extraction.provider": stringKey(func(c *Config) *string { return &c.Extraction.Provider }),
	"extraction.model":    stringKey(func(c *Config) *string { return &c.Extraction.Model }),
	"extraction.target":   stringKey(func(c *Config) *string { return &c.Extraction.Target }),
	"extraction.api_key":  stringKey(func(c *Config) *string { return &c.Extraction.APIKey }),
	"extraction.min_confidence": {
		get: func(c *Config) string {
			if c.Extraction.MinConfidence == nil {
				return ""
			}
			return strconv.FormatFloat(*c.Extraction.MinConfidence, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for extraction.min_confidence: %w", err)
			}
			if f < 0 || f > 1 {
				return fmt.Errorf("invalid value for extraction.min_confidence: %v is outside [0, 1]", f)
			}
			c.Extraction.MinConfidence = &f
			return nil
		},
	},
	"extraction.context_chars": uintKey("extraction.context_chars", func(c *Config) *uint { return &c.Extraction.ContextChars }),

	"buffer.window_size":       uintKey("buffer.window_size", func(c *Config) *uint { return &c.Buffer.WindowSize }),
	"buffer.step_size":         uintKey("buffer.step_size", func(c *Config) *uint { return &c.Buffer.StepSize }),
	"buffer.min_message_chars": uintKey("buffer.min_message_chars", func(c *Config) *uint { return &c.Buffer.MinMessageChars }),
	"buffer.flush_timeout":     durationKey("buffer.flush_timeout", func(c *Config) *string { return &c.Buffer.FlushTimeout }),
	"buffer.sweep_interval":    durationKey("buffer.sweep_interval", func(c *Config) *string { return &c.Buffer.SweepInterval }),

	"eventstream.provider": stringKey(func(c *Config) *string { return &c.EventStream.Provider }),
	"eventstream.brokers":  stringKey(func(c *Config) *string { return &c.EventStream.Brokers }),
	"eventstream.topic":    stringKey(func(c *Config) *string { return &c.EventStream.Topic }),
}
