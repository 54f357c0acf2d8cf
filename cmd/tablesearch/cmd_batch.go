package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tablesearch/internal/config"
	"tablesearch/internal/scheduler"
	"tablesearch/internal/store"
)

// batchFlags are the batch overrides of the config file.
type batchFlags struct {
	input         string
	output        string
	workers       int
	timeout       time.Duration
	searchLimit   int
	visitLimit    int
	tabularLimit  int
	deepLimit     int
	skipCompleted bool
	start         int
	end           int
	clearDB       bool
}

var batchOpts batchFlags

// batchCmd runs a dataset of tasks in supervised worker processes
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a JSONL dataset of tasks in parallel worker processes",
	Long: `Runs every task of a JSONL dataset ({"instance_id", "query", "language"} per line)
in its own worker process. Each task has a hard deadline: on expiry the worker
gets SIGTERM, then SIGKILL after the grace period.

Results are written to <output>/<instance_id>.json. Tasks whose worker produced
no usable answer are recovered from the tables they wrote.

Example:
  tablesearch batch --input tasks.jsonl --output out --workers 8 --timeout 30m`,
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchOpts.input, "input", "i", "", "JSONL dataset (required)")
	f.StringVarP(&batchOpts.output, "output", "o", "", "Output directory (default: scheduler.output_dir)")
	f.IntVarP(&batchOpts.workers, "workers", "w", 0, "Concurrent worker processes")
	f.DurationVar(&batchOpts.timeout, "timeout", 0, "Per-task deadline")
	f.IntVar(&batchOpts.searchLimit, "search-limit", 0, "Search queries per task (0: unlimited)")
	f.IntVar(&batchOpts.visitLimit, "visit-limit", 0, "Page visits per task (0: unlimited)")
	f.IntVar(&batchOpts.tabularLimit, "tabular-limit", 0, "Delegations to the tabular worker per task (0: unlimited)")
	f.IntVar(&batchOpts.deepLimit, "deep-limit", 0, "Delegations to the deep worker per task (0: unlimited)")
	f.BoolVar(&batchOpts.skipCompleted, "skip-completed", true, "Skip tasks that already have a usable result")
	f.IntVar(&batchOpts.start, "start", 0, "First task index (0-based)")
	f.IntVar(&batchOpts.end, "end", 0, "End task index, exclusive (0: last)")
	f.BoolVar(&batchOpts.clearDB, "clear-db", false, "Drop every table in the record store before the batch")
	batchCmd.MarkFlagRequired("input")
}

// applyBatchFlags copies the flags the user set onto c.
func applyBatchFlags(cmd *cobra.Command, c *config.Config, o batchFlags) {
	changed := cmd.Flags().Changed
	if o.output != "" {
		c.Scheduler.OutputDir = o.output
	}
	if changed("workers") {
		c.Scheduler.Workers = o.workers
	}
	if changed("timeout") {
		c.Scheduler.Timeout = o.timeout.String()
	}
	if changed("search-limit") {
		c.Budgets.Search = o.searchLimit
	}
	if changed("visit-limit") {
		c.Budgets.Visit = o.visitLimit
	}
	if changed("tabular-limit") {
		c.Budgets.TabularCalls = o.tabularLimit
	}
	if changed("deep-limit") {
		c.Budgets.DeepCalls = o.deepLimit
	}
	if changed("skip-completed") {
		c.Scheduler.SkipCompleted = o.skipCompleted
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applyBatchFlags(cmd, cfg, batchOpts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	outputDir := cfg.Scheduler.OutputDir

	tasks, err := scheduler.LoadDataset(batchOpts.input, batchOpts.start, batchOpts.end)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		logger.Warn("No tasks to run", zap.String("input", batchOpts.input))
		return nil
	}

	records, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer records.Close()
	if batchOpts.clearDB {
		n, err := records.ClearAll(ctx)
		if err != nil {
			return fmt.Errorf("clear record store: %w", err)
		}
		logger.Info("Cleared record store", zap.Int("tables", n))
	}

	// Workers read the effective config, flags included.
	workerConfig := filepath.Join(outputDir, "work", "config.yaml")
	if err := cfg.Save(workerConfig); err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Workers: cfg.Scheduler.Workers,
		Limits: scheduler.Limits{
			Timeout:     cfg.GetTaskTimeout(),
			GracePeriod: cfg.GetGracePeriod(),
			KillWait:    cfg.GetKillWait(),
		},
		OutputDir:     outputDir,
		SkipCompleted: cfg.Scheduler.SkipCompleted,
		WatchProgress: cfg.Scheduler.WatchProgress,
		Command:       workerCommand(exe, workerConfig),
		Tables:        records,
	})
	if err != nil {
		return err
	}

	serveMetrics(ctx)
	logger.Info("Starting batch",
		zap.String("input", batchOpts.input),
		zap.String("output", outputDir),
		zap.Int("tasks", len(tasks)),
		zap.Int("workers", cfg.Scheduler.Workers),
		zap.Duration("timeout", cfg.GetTaskTimeout()))

	summary, err := sched.Run(ctx, tasks)
	if err != nil {
		return err
	}
	fmt.Println(renderSummary(summary))
	if ctx.Err() != nil {
		return fmt.Errorf("batch interrupted")
	}
	return nil
}

// workerCommand starts this binary in worker mode for one task file.
func workerCommand(exe, configFile string) scheduler.CommandFunc {
	return func(_ context.Context, taskFile string) *exec.Cmd {
		args := []string{"worker", "--task-file", taskFile, "--config", configFile}
		if promptDir != "" {
			args = append(args, "--prompts", promptDir)
		}
		if verbose {
			args = append(args, "--verbose")
		}
		return exec.Command(exe, args...)
	}
}
