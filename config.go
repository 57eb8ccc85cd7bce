package bitvault

import "github.com/sirupsen/logrus"

// Option customizes a Config before Open applies its defaults. Modeled on
// the teacher's functional-options ConfOption pattern (config.go), trimmed
// to the knobs this spec actually defines.
type Option func(*Config)

// Config is the configuration for Open. Dir is required; everything else
// falls back to a sane default (§4.4).
type Config struct {
	Dir      string
	FileSize int64
	Logger   *logrus.Logger
}

// WithFileSize overrides the active-file rotation threshold.
func WithFileSize(size int64) Option {
	return func(c *Config) {
		c.FileSize = size
	}
}

// WithLogger overrides the structured logger used for open/corruption/GC
// diagnostics.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// DefaultConfig builds a Config for dir with every knob at its default,
// then applies opts on top. Callers that just want Open(dir) reach for
// this instead of constructing a Config literal by hand.
func DefaultConfig(dir string, opts ...Option) Config {
	cfg := Config{
		Dir:      dir,
		FileSize: DefaultFileSize,
		Logger:   defaultLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
