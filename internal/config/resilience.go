package config

import (
	"fmt"
	"time"
)

// ResilienceConfig configures the capability retry and script repair loops.
type ResilienceConfig struct {
	MaxAttempts       int    `yaml:"max_attempts" json:"max_attempts"`               // per capability call
	BaseDelay         string `yaml:"base_delay" json:"base_delay"`                   // backoff = base * 2^attempt
	GlobalRetryLimit  int64  `yaml:"global_retry_limit" json:"global_retry_limit"`   // process-wide ceiling
	RepairMaxAttempts int    `yaml:"repair_max_attempts" json:"repair_max_attempts"` // per subtask script
}

// DefaultResilienceConfig returns default retry settings.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxAttempts:       3,
		BaseDelay:         "1s",
		GlobalRetryLimit:  1000,
		RepairMaxAttempts: 6,
	}
}

// Validate checks that the retry settings are usable.
func (r ResilienceConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("resilience.max_attempts must be >= 1")
	}
	if r.RepairMaxAttempts < 1 {
		return fmt.Errorf("resilience.repair_max_attempts must be >= 1")
	}
	if r.GlobalRetryLimit < 1 {
		return fmt.Errorf("resilience.global_retry_limit must be >= 1")
	}
	return nil
}

// GetBaseDelay returns the backoff base delay.
func (c *Config) GetBaseDelay() time.Duration {
	return parseDuration(c.Resilience.BaseDelay, time.Second)
}

// OrchestratorConfig configures memory reuse and decomposition.
type OrchestratorConfig struct {
	MemoryThreshold     float64 `yaml:"memory_threshold" json:"memory_threshold"`         // similarity floor for hits
	AdaptThreshold      float64 `yaml:"adapt_threshold" json:"adapt_threshold"`           // adjusted confidence for reuse
	BaselineConfidence  float64 `yaml:"baseline_confidence" json:"baseline_confidence"`   // initial record confidence
	ImproveAfterRun     bool    `yaml:"improve_after_run" json:"improve_after_run"`       // opportunistic registry pass
	PromoteScripts      bool    `yaml:"promote_scripts" json:"promote_scripts"`           // ad-hoc scripts -> capabilities
	PredictCapabilities bool    `yaml:"predict_capabilities" json:"predict_capabilities"` // narrow listing via model
}

// DefaultOrchestratorConfig returns default orchestrator thresholds.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MemoryThreshold:     0.9,
		AdaptThreshold:      0.8,
		BaselineConfidence:  0.5,
		ImproveAfterRun:     true,
		PromoteScripts:      false,
		PredictCapabilities: true,
	}
}

// Validate checks thresholds are within [0,1].
func (o OrchestratorConfig) Validate() error {
	for name, v := range map[string]float64{
		"memory_threshold":    o.MemoryThreshold,
		"adapt_threshold":     o.AdaptThreshold,
		"baseline_confidence": o.BaselineConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("orchestrator.%s must be within [0,1], got %v", name, v)
		}
	}
	return nil
}
