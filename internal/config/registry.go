package config

import "time"

// RegistryConfig configures the capability registry.
type RegistryConfig struct {
	// Documents are written under data_dir.
	RegistryFile string `yaml:"registry_file" json:"registry_file"`
	MetricsFile  string `yaml:"metrics_file" json:"metrics_file"`

	// MaintenanceInterval between self-test / self-improvement passes.
	MaintenanceInterval string `yaml:"maintenance_interval" json:"maintenance_interval"`

	// Author recorded in unit metadata.
	Author string `yaml:"author" json:"author"`

	// DropInDir is watched for *.go files that are imported as capabilities.
	// Empty disables the importer.
	DropInDir string `yaml:"drop_in_dir" json:"drop_in_dir"`

	// Standardize passes added sources through the model before persisting.
	Standardize bool `yaml:"standardize" json:"standardize"`
}

// DefaultRegistryConfig returns default registry settings.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		RegistryFile:        "registry.json",
		MetricsFile:         "metrics.json",
		MaintenanceInterval: "1h",
		Author:              "autotool",
		Standardize:         true,
	}
}

// GetMaintenanceInterval returns the maintenance interval as a duration.
func (c *Config) GetMaintenanceInterval() time.Duration {
	return parseDuration(c.Registry.MaintenanceInterval, time.Hour)
}

// SandboxConfig configures the script executor.
type SandboxConfig struct {
	// Timeout bounds one script or unit evaluation.
	Timeout string `yaml:"timeout" json:"timeout"`

	// ExtraPackages extends the import allow-list.
	ExtraPackages []string `yaml:"extra_packages" json:"extra_packages,omitempty"`
}

// DefaultSandboxConfig returns default executor settings.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{Timeout: "30s"}
}

// GetSandboxTimeout returns the script timeout as a duration.
func (c *Config) GetSandboxTimeout() time.Duration {
	return parseDuration(c.Sandbox.Timeout, 30*time.Second)
}
