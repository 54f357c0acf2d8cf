package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Worker names used by the coordinator and the call budgets.
const (
	MainAgentName    = "main_agent"
	TabularAgentName = "tabular_search_agent"
	DeepAgentName    = "deep_search_agent"
)

// Config holds all configuration for tablesearch.
type Config struct {
	// Core settings
	Name string `yaml:"name"`

	// LLM configuration for the workers and for context compaction
	LLM        LLMConfig `yaml:"llm"`
	SummaryLLM LLMConfig `yaml:"summary_llm"`

	Agents    AgentsConfig    `yaml:"agents"`
	Budgets   BudgetConfig    `yaml:"budgets"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AgentsConfig configures the worker team.
type AgentsConfig struct {
	Main    AgentConfig `yaml:"main"`
	Tabular AgentConfig `yaml:"tabular"`
	Deep    AgentConfig `yaml:"deep"`

	// MaxToolThreads bounds parallel tool calls within one step.
	MaxToolThreads int `yaml:"max_tool_threads"`
}

// AgentConfig configures one worker template.
type AgentConfig struct {
	Model            string           `yaml:"model"` // overrides llm.model when set
	MaxSteps         int              `yaml:"max_steps"`
	PlanningInterval int              `yaml:"planning_interval"`
	Compaction       CompactionConfig `yaml:"compaction"`
}

// CompactionConfig configures context compaction for one worker.
type CompactionConfig struct {
	Enabled        bool `yaml:"enabled"`
	TokenThreshold int  `yaml:"token_threshold"`
	MinSteps       int  `yaml:"min_steps"`
	MaxRetries     int  `yaml:"max_retries"`
}

// SchedulerConfig configures the batch runner.
type SchedulerConfig struct {
	Workers       int    `yaml:"workers"`
	Timeout       string `yaml:"timeout"`      // per-task wall clock deadline
	GracePeriod   string `yaml:"grace_period"` // SIGTERM to SIGKILL
	KillWait      string `yaml:"kill_wait"`    // wait after SIGKILL
	OutputDir     string `yaml:"output_dir"`
	SkipCompleted bool   `yaml:"skip_completed"`
	WatchProgress bool   `yaml:"watch_progress"`
}

// StoreConfig configures the structured record store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
	Path   string `yaml:"path"`
}

// ToolsConfig configures the research tools.
type ToolsConfig struct {
	Search SearchConfig `yaml:"search"`
	Visit  VisitConfig  `yaml:"visit"`
}

// SearchConfig configures the web search provider.
type SearchConfig struct {
	Provider   string `yaml:"provider"` // duckduckgo, serper
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
	Timeout    string `yaml:"timeout"`
}

// VisitConfig configures page fetching.
type VisitConfig struct {
	MaxLength    int      `yaml:"max_length"`
	Timeout      string   `yaml:"timeout"`
	JinaEndpoint string   `yaml:"jina_endpoint"`
	JinaAPIKeys  []string `yaml:"jina_api_keys"`
	Browser      bool     `yaml:"browser"` // headless render fallback
	CacheTTL     string   `yaml:"cache_ttl"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "tablesearch",

		LLM: LLMConfig{
			Provider:     "openai",
			Model:        "gpt-4o",
			BaseURL:      "https://api.openai.com/v1",
			Timeout:      "10m",
			Temperature:  0.2,
			MaxTokens:    8192,
			MaxRetries:   10,
			RetryMinWait: "10s",
			RetryMaxWait: "20s",
		},

		Agents: AgentsConfig{
			Main: AgentConfig{
				MaxSteps:         40,
				PlanningInterval: 8,
				Compaction:       CompactionConfig{Enabled: true, TokenThreshold: 80000, MinSteps: 5, MaxRetries: 5},
			},
			Tabular: AgentConfig{
				MaxSteps:         40,
				PlanningInterval: 12,
				Compaction:       CompactionConfig{Enabled: true, TokenThreshold: 60000, MinSteps: 5, MaxRetries: 5},
			},
			Deep: AgentConfig{
				MaxSteps:         40,
				PlanningInterval: 12,
				Compaction:       CompactionConfig{Enabled: true, TokenThreshold: 60000, MinSteps: 5, MaxRetries: 5},
			},
			MaxToolThreads: 4,
		},

		Budgets: BudgetConfig{
			TableCreation: 1,
		},

		Scheduler: SchedulerConfig{
			Workers:       4,
			Timeout:       "1h",
			GracePeriod:   "10s",
			KillWait:      "5s",
			OutputDir:     "output",
			SkipCompleted: true,
			WatchProgress: true,
		},

		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "output/records.db",
		},

		Tools: ToolsConfig{
			Search: SearchConfig{
				Provider:   "duckduckgo",
				MaxResults: 10,
				Timeout:    "30s",
			},
			Visit: VisitConfig{
				MaxLength:    40000,
				Timeout:      "60s",
				JinaEndpoint: "https://r.jina.ai/",
				CacheTTL:     "1h",
			},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// API keys may be inlined.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "openai"
		}
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && (c.LLM.Provider == "gemini" || c.LLM.APIKey == "") {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if model := os.Getenv("TABLESEARCH_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if key := os.Getenv("SERPER_API_KEY"); key != "" {
		c.Tools.Search.APIKey = key
		c.Tools.Search.Provider = "serper"
	}
	if keys := os.Getenv("JINA_API_KEYS"); keys != "" {
		c.Tools.Visit.JinaAPIKeys = splitList(keys)
	}

	if path := os.Getenv("TABLESEARCH_DB"); path != "" {
		c.Store.Path = path
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SummaryModel returns the compaction model config with unset fields
// inherited from the main model.
func (c *Config) SummaryModel() LLMConfig {
	return c.SummaryLLM.merged(c.LLM)
}

// AgentModel returns the model config for one worker.
func (c *Config) AgentModel(a AgentConfig) LLMConfig {
	m := c.LLM
	if a.Model != "" {
		m.Model = a.Model
	}
	return m
}

// GetTaskTimeout returns the per-task deadline.
func (c *Config) GetTaskTimeout() time.Duration {
	return parseDuration(c.Scheduler.Timeout, time.Hour)
}

// GetGracePeriod returns the SIGTERM grace period.
func (c *Config) GetGracePeriod() time.Duration {
	return parseDuration(c.Scheduler.GracePeriod, 10*time.Second)
}

// GetKillWait returns how long to wait for a killed child to be reaped.
func (c *Config) GetKillWait() time.Duration {
	return parseDuration(c.Scheduler.KillWait, 5*time.Second)
}

// GetSearchTimeout returns the search request timeout.
func (c *Config) GetSearchTimeout() time.Duration {
	return parseDuration(c.Tools.Search.Timeout, 30*time.Second)
}

// GetVisitTimeout returns the page fetch timeout.
func (c *Config) GetVisitTimeout() time.Duration {
	return parseDuration(c.Tools.Visit.Timeout, 60*time.Second)
}

// GetCacheTTL returns the fetched page cache TTL.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Tools.Visit.CacheTTL, time.Hour)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY or GEMINI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	switch c.Store.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("invalid store driver: %s (valid: sqlite, sqlite3)", c.Store.Driver)
	}

	switch c.Tools.Search.Provider {
	case "duckduckgo", "serper":
	default:
		return fmt.Errorf("invalid search provider: %s", c.Tools.Search.Provider)
	}

	return c.ValidateBudgets()
}
