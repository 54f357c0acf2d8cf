package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tablesearch/internal/runner"
)

var workerTaskFile string

// workerCmd is the child side of batch: it runs one task file and reports
// the result on stdout.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one task file (started by batch)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runner.RunTaskFile(ctx, cfg, workerTaskFile, promptDir, os.Stdout)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerTaskFile, "task-file", "", "Task file written by the scheduler")
	workerCmd.MarkFlagRequired("task-file")
}
