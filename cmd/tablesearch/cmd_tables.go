package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tablesearch/internal/store"
)

var (
	tablesTask  string
	tablesPlain bool
	tablesClear bool
)

// tablesCmd dumps the tables a task wrote
var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Print the tables of a task as markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		s, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
		if err != nil {
			return err
		}
		defer s.Close()

		if tablesClear {
			n, err := s.ClearTask(ctx, tablesTask)
			if err != nil {
				return err
			}
			fmt.Printf("Dropped %d table(s) of task %s\n", n, tablesTask)
			return nil
		}

		data, err := s.TablesForTask(ctx, tablesTask)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			fmt.Printf("Task %s has no tables.\n", tablesTask)
			return nil
		}
		fmt.Println(renderMarkdown(store.RenderMarkdown(data), tablesPlain))
		return nil
	},
}

func init() {
	tablesCmd.Flags().StringVarP(&tablesTask, "task", "t", "", "Task instance_id (required)")
	tablesCmd.Flags().BoolVar(&tablesPlain, "plain", false, "Print raw markdown")
	tablesCmd.Flags().BoolVar(&tablesClear, "clear", false, "Drop the task's tables instead of printing them")
	tablesCmd.MarkFlagRequired("task")
}
