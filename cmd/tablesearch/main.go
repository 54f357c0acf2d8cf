package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tablesearch/internal/config"
	"tablesearch/internal/logging"
	"tablesearch/internal/metrics"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	metricsAddr string
	promptDir   string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tablesearch",
	Short: "tablesearch - table-driven research workers under shared budgets",
	Long: `tablesearch answers broad information-seeking questions by coordinating
LLM research workers that collect their findings into per-task tables.

A coordinator delegates to a tabular worker (many rows of one kind) and a deep
worker (narrow questions). Search, page visits, table creation and delegations
are metered per task. Batches run every task in its own process under a hard
deadline and recover partial answers from the record store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if metricsAddr != "" {
			cfg.Metrics.Addr = metricsAddr
		}

		opts := logging.Options{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			File:       cfg.Logging.File,
			Categories: cfg.Logging.Categories,
		}
		if verbose {
			opts.Level = "debug"
		}
		if err := logging.Initialize(opts); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.Base().Named("cli")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tablesearch.yaml", "Config file (missing file uses defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.PersistentFlags().StringVar(&promptDir, "prompts", "", "Directory of prompt overrides (main.yaml, tabular.yaml, deep.yaml)")

	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serveMetrics starts the Prometheus endpoint when one is configured. The
// server stops with ctx.
func serveMetrics(ctx context.Context) {
	addr := cfg.Metrics.Addr
	if addr == "" {
		return
	}
	metrics.Default()
	go func() {
		if err := metrics.Serve(ctx, addr); err != nil {
			logger.Warn("Metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("addr", addr))
}
