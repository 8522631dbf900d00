package config

import "time"

type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	// Type selects the adapter: openai, anthropic or echo.
	Type          string            `yaml:"type"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	APIVersion    string            `yaml:"api_version,omitempty"`
	DefaultModel  string            `yaml:"default_model"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	// MaxOutputTokens narrows the shared max_tokens bound for this backend.
	MaxOutputTokens int `yaml:"max_output_tokens,omitempty"`
	// MaxTemperature narrows the shared temperature bound for this backend.
	MaxTemperature float64 `yaml:"max_temperature,omitempty"`
}
