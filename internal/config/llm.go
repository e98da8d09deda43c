package config

// LLMConfig configures the generative model client.
type LLMConfig struct {
	Provider    string  `yaml:"provider" json:"provider"` // gemini
	APIKey      string  `yaml:"api_key" json:"api_key,omitempty"`
	Model       string  `yaml:"model" json:"model"`
	Timeout     string  `yaml:"timeout" json:"timeout"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
}
