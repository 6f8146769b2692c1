package logging

import "go.uber.org/zap/zapcore"

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
}

// DefaultConfig returns the info-level configuration the tools start
// from; the --debug flag lowers it to debug.
func DefaultConfig() *Config {
	return &Config{Level: zapcore.InfoLevel}
}
