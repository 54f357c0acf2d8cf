// Package runner assembles the worker team of one task and runs it.
//
// Each task gets its own governor set, tool registries and task log. The
// coordinator delegates to a tabular and a deep sub-worker; all three share
// the governors and the record store.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"tablesearch/internal/agent"
	"tablesearch/internal/browser"
	"tablesearch/internal/config"
	ctxcompress "tablesearch/internal/context"
	"tablesearch/internal/governor"
	"tablesearch/internal/logging"
	"tablesearch/internal/perception"
	"tablesearch/internal/prompt"
	"tablesearch/internal/scheduler"
	"tablesearch/internal/store"
	"tablesearch/internal/tools"
	"tablesearch/internal/tools/research"
	"tablesearch/internal/tools/table"
	"tablesearch/internal/types"
	"tablesearch/internal/usage"
)

// Sub-worker descriptions shown to the coordinator.
const (
	TabularDescription = "Collects many entities of one kind and records each as a row. " +
		"Give it the table name, the columns and the scope of rows to find."
	DeepDescription = "Answers a narrow question that needs several searches and page visits, " +
		"such as filling the missing fields of a few rows."
)

// ModelFactory creates the model for one LLM endpoint.
type ModelFactory func(ctx context.Context, cfg config.LLMConfig) (types.Model, error)

// Options configures a team. Nil dependencies are built from Config.
type Options struct {
	Config    *config.Config
	Task      scheduler.Task
	OutputDir string
	PromptDir string

	Store    *store.Store
	Searcher research.Searcher
	Fetcher  *research.Fetcher
	NewModel ModelFactory
}

// Team is the assembled worker team of one task.
type Team struct {
	Main      *agent.Template
	Governors *governor.Set
	Store     *store.Store
	TaskLog   *logging.TaskLog
	Usage     *usage.Tracker

	closeOnce sync.Once
	closers   []func() error
}

// NewTeam builds the governors, tools and templates for opts.Task.
func NewTeam(ctx context.Context, opts Options) (*Team, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("runner: no config")
	}
	if opts.Task.ID == "" {
		return nil, errors.New("runner: task has no instance_id")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = cfg.Scheduler.OutputDir
	}
	newModel := opts.NewModel
	if newModel == nil {
		newModel = perception.NewModel
	}

	team := &Team{}
	ok := false
	defer func() {
		if !ok {
			team.Close()
		}
	}()

	taskLog, err := logging.OpenTaskLog(scheduler.AgentLogPath(opts.OutputDir, opts.Task.ID))
	if err != nil {
		return nil, err
	}
	team.TaskLog = taskLog
	team.closers = append(team.closers, taskLog.Close)
	team.Usage = usage.NewTracker(opts.Task.ID, filepath.Join(scheduler.WorkDir(opts.OutputDir, opts.Task.ID), "usage.json"))

	team.Store = opts.Store
	if team.Store == nil {
		s, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open record store: %w", err)
		}
		team.Store = s
		team.closers = append(team.closers, s.Close)
	}

	b := cfg.Budgets
	team.Governors = governor.NewSet(governor.Limits{
		Search:      b.Search,
		Visit:       b.Visit,
		TableCreate: b.TableCreation,
		Calls:       b.CallLimits(),
	})

	searcher := opts.Searcher
	if searcher == nil {
		searcher = research.NewSearcherFromConfig(cfg)
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		var sm *browser.SessionManager
		fetcher, sm = research.NewFetcherFromConfig(cfg)
		if sm != nil {
			team.closers = append(team.closers, sm.Shutdown)
		}
	}

	models := newModelCache(newModel)
	summary, err := models.get(ctx, cfg.SummaryModel())
	if err != nil {
		return nil, fmt.Errorf("summary model: %w", err)
	}

	researchDeps := research.Deps{
		Searcher:   searcher,
		Fetcher:    fetcher,
		Search:     team.Governors.Search,
		Visit:      team.Governors.Visit,
		MaxResults: cfg.Tools.Search.MaxResults,
		MaxLength:  cfg.Tools.Visit.MaxLength,
		PageDir:    filepath.Join(scheduler.WorkDir(opts.OutputDir, opts.Task.ID), "web_page"),
	}
	tableDeps := table.Deps{
		Store:  team.Store,
		TaskID: opts.Task.ID,
		Create: team.Governors.TableCreate,
	}

	build := func(name, set, description string, ac config.AgentConfig, readOnly bool, managed []*agent.Template) (*agent.Template, error) {
		reg := tools.NewRegistry()
		if err := research.RegisterAll(reg, researchDeps); err != nil {
			return nil, err
		}
		td := tableDeps
		td.ReadOnly = readOnly
		if err := table.RegisterAll(reg, td); err != nil {
			return nil, err
		}
		model, err := models.get(ctx, cfg.AgentModel(ac))
		if err != nil {
			return nil, fmt.Errorf("%s model: %w", name, err)
		}
		prompts, err := prompt.LoadWithOverrides(opts.PromptDir, set)
		if err != nil {
			return nil, err
		}
		return agent.NewTemplate(agent.Config{
			Name:             name,
			Description:      description,
			Model:            model,
			Tools:            reg,
			Prompts:          prompts,
			MaxSteps:         ac.MaxSteps,
			PlanningInterval: ac.PlanningInterval,
			Compactor:        newCompactor(summary, ac.Compaction),
			Managed:          managed,
			Calls:            team.Governors.Calls,
			MaxToolThreads:   cfg.Agents.MaxToolThreads,
			TaskLog:          taskLog,
			Usage:            team.Usage,
		})
	}

	tabular, err := build(config.TabularAgentName, prompt.TabularSet, TabularDescription, cfg.Agents.Tabular, false, nil)
	if err != nil {
		return nil, err
	}
	deep, err := build(config.DeepAgentName, prompt.DeepSet, DeepDescription, cfg.Agents.Deep, true, nil)
	if err != nil {
		return nil, err
	}
	team.Main, err = build(config.MainAgentName, prompt.MainSet, "", cfg.Agents.Main, false, []*agent.Template{tabular, deep})
	if err != nil {
		return nil, err
	}

	logging.BootDebug("[%s] team ready: models=%v", opts.Task.ID, team.Main.ModelIDs())
	ok = true
	return team, nil
}

// Close releases the resources the team opened, in reverse order.
func (t *Team) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		for i := len(t.closers) - 1; i >= 0; i-- {
			if err := t.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func newCompactor(summary types.Model, cc config.CompactionConfig) *ctxcompress.Compactor {
	if !cc.Enabled {
		return nil
	}
	cfg := ctxcompress.DefaultConfig()
	cfg.TokenThreshold = cc.TokenThreshold
	cfg.MinSteps = cc.MinSteps
	cfg.MaxRetries = cc.MaxRetries
	return ctxcompress.NewCompactor(summary, cfg)
}

// modelCache shares one client per endpoint and model name.
type modelCache struct {
	newModel ModelFactory
	models   map[string]types.Model
}

func newModelCache(f ModelFactory) *modelCache {
	return &modelCache{newModel: f, models: make(map[string]types.Model)}
}

func (c *modelCache) get(ctx context.Context, cfg config.LLMConfig) (types.Model, error) {
	key := cfg.Provider + "|" + cfg.BaseURL + "|" + cfg.Model
	if m, ok := c.models[key]; ok {
		return m, nil
	}
	m, err := c.newModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.models[key] = m
	return m, nil
}
