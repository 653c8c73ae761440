package courier

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/courier/wire"
)

// Config holds deployment settings for a channel and its capabilities.
type Config struct {
	// RelayBaseURL is the relay to create inboxes against.
	RelayBaseURL string `yaml:"relay_base_url"`

	// BlobBaseURL is the remote blob store base, when one is used.
	BlobBaseURL string `yaml:"blob_base_url"`

	// BlobDir is the directory for a filesystem blob store.
	BlobDir string `yaml:"blob_dir"`

	// MaxBufferSize is the framing ceiling in bytes.
	MaxBufferSize uint32 `yaml:"max_buffer_size"`

	// LongPoll selects long-poll inbox listing.
	LongPoll bool `yaml:"long_poll"`

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		MaxBufferSize: wire.DefaultMaxBufferSize,
		LongPoll:      true,
		LogLevel:      "info",
	}
}

// LoadConfig reads a YAML config file, filling unset fields with
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.MaxBufferSize == 0 {
		cfg.MaxBufferSize = wire.DefaultMaxBufferSize
	}

	logrus.WithFields(logrus.Fields{
		"function":  "LoadConfig",
		"package":   "courier",
		"path":      path,
		"relay":     cfg.RelayBaseURL,
		"long_poll": cfg.LongPoll,
	}).Debug("Loaded configuration")

	return cfg, nil
}

// ApplyLogLevel sets the global logrus level from the config; unknown
// names leave the level unchanged.
func (c *Config) ApplyLogLevel() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ApplyLogLevel",
			"package":  "courier",
			"level":    c.LogLevel,
		}).Warn("Unknown log level, keeping current")
		return
	}
	logrus.SetLevel(level)
}
