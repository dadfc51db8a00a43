package buffer

import (
	"log/slog"
	"time"
)

const (
	DefaultWindowSize      = 8
	DefaultStepSize        = 4
	DefaultMinMessageChars = 10
	DefaultFlushTimeout    = 5 * time.Minute
	DefaultSweepInterval   = 60 * time.Second
)

// Config configures a Buffer. Zero values take the defaults above.
type Config struct {
	// WindowSize is the number of messages that triggers a flush.
	WindowSize int

	// StepSize is the number of most recent messages kept after a flush.
	StepSize int

	// MinMessageChars drops trimmed messages shorter than this many runes.
	MinMessageChars int

	// FlushTimeout is how long a conversation may sit idle with new
	// messages before the sweep flushes it.
	FlushTimeout time.Duration

	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.StepSize <= 0 {
		c.StepSize = DefaultStepSize
	}
	if c.StepSize >= c.WindowSize {
		c.StepSize = c.WindowSize - 1
	}
	if c.MinMessageChars <= 0 {
		c.MinMessageChars = DefaultMinMessageChars
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
