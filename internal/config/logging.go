package config

import "autotool/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`         // json, console
	File       string          `yaml:"file" json:"file,omitempty"`             // relative to data_dir
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}

// LoggingOptions converts the section into logging.Config, resolving File
// against the data directory.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.ResolvePath(c.Logging.File),
		Categories: c.Logging.Categories,
	}
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
	PrettyPrint bool   `yaml:"pretty_print" json:"pretty_print"`
}
