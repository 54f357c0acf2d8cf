package config

import "fmt"

// BudgetConfig holds the per-task shared resource budgets.
// Zero or negative means unlimited, except TableCreation which is always at least 1.
type BudgetConfig struct {
	Search        int `yaml:"search"`         // web search queries per task
	Visit         int `yaml:"visit"`          // page fetches per task
	TableCreation int `yaml:"table_creation"` // schema definitions per task
	TabularCalls  int `yaml:"tabular_calls"`  // tabular_search_agent delegations
	DeepCalls     int `yaml:"deep_calls"`     // deep_search_agent delegations
}

// CallLimits returns the call governor limits keyed by worker name.
// Workers without a positive limit are left out and therefore unbounded.
func (b BudgetConfig) CallLimits() map[string]int {
	limits := make(map[string]int)
	if b.TabularCalls > 0 {
		limits[TabularAgentName] = b.TabularCalls
	}
	if b.DeepCalls > 0 {
		limits[DeepAgentName] = b.DeepCalls
	}
	return limits
}

// ValidateBudgets checks that budgets are within acceptable ranges.
func (c *Config) ValidateBudgets() error {
	if c.Budgets.TableCreation < 0 {
		return fmt.Errorf("budgets.table_creation must be >= 0")
	}
	if c.Agents.MaxToolThreads < 1 {
		return fmt.Errorf("agents.max_tool_threads must be >= 1")
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be >= 1")
	}
	for name, a := range map[string]AgentConfig{"main": c.Agents.Main, "tabular": c.Agents.Tabular, "deep": c.Agents.Deep} {
		if a.MaxSteps < 1 {
			return fmt.Errorf("agents.%s.max_steps must be >= 1", name)
		}
		if a.Compaction.Enabled && a.Compaction.TokenThreshold < 1000 {
			return fmt.Errorf("agents.%s.compaction.token_threshold must be >= 1000", name)
		}
	}
	return nil
}
