package config

import "time"

// LLMConfig configures one text-generation model endpoint.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai, gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Transient-error retry policy for agent steps.
	MaxRetries   int    `yaml:"max_retries"`
	RetryMinWait string `yaml:"retry_min_wait"`
	RetryMaxWait string `yaml:"retry_max_wait"`
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "gemini"}

// GetTimeout returns the request timeout as a duration.
func (l LLMConfig) GetTimeout() time.Duration {
	return parseDuration(l.Timeout, 10*time.Minute)
}

// GetRetryWindow returns the jitter window between retries.
func (l LLMConfig) GetRetryWindow() (time.Duration, time.Duration) {
	lo := parseDuration(l.RetryMinWait, 10*time.Second)
	hi := parseDuration(l.RetryMaxWait, 20*time.Second)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// merged fills empty fields of l from fallback. The summary model inherits
// credentials and endpoint from the main model unless set explicitly.
func (l LLMConfig) merged(fallback LLMConfig) LLMConfig {
	if l.Provider == "" {
		l.Provider = fallback.Provider
	}
	if l.APIKey == "" {
		l.APIKey = fallback.APIKey
	}
	if l.Model == "" {
		l.Model = fallback.Model
	}
	if l.BaseURL == "" {
		l.BaseURL = fallback.BaseURL
	}
	if l.Timeout == "" {
		l.Timeout = fallback.Timeout
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = fallback.MaxTokens
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = fallback.MaxRetries
	}
	if l.RetryMinWait == "" {
		l.RetryMinWait = fallback.RetryMinWait
	}
	if l.RetryMaxWait == "" {
		l.RetryMaxWait = fallback.RetryMaxWait
	}
	return l
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
