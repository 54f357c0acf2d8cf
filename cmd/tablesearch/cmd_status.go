package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"tablesearch/internal/scheduler"
)

var (
	statusOutput  string
	statusDetails bool
)

// statusCmd summarizes the artifacts of an output directory
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the results in an output directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := statusOutput
		if dir == "" {
			dir = cfg.Scheduler.OutputDir
		}
		report, err := collectStatus(dir)
		if err != nil {
			return err
		}
		fmt.Println(renderStatus(dir, report, statusDetails))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "", "Output directory (default: scheduler.output_dir)")
	statusCmd.Flags().BoolVar(&statusDetails, "details", false, "List every unfinished task")
}

// taskStatus is one artifact as shown by status.
type taskStatus struct {
	ID       string
	Status   string
	Duration time.Duration
	Reason   string
}

// statusReport aggregates the artifacts of an output directory.
type statusReport struct {
	Counts    map[string]int
	Recovered int
	APIErrors int
	Total     int
	Duration  time.Duration
	Tasks     []taskStatus
}

// collectStatus reads every artifact in dir. Artifacts written without a
// scheduler status are classified by their content.
func collectStatus(dir string) (*statusReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	r := &statusReport{Counts: make(map[string]int)}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		a, err := scheduler.ReadArtifact(dir, id)
		if err != nil {
			r.Counts["incomplete"]++
			r.Total++
			r.Tasks = append(r.Tasks, taskStatus{ID: id, Status: "incomplete", Reason: "unreadable artifact"})
			continue
		}

		ts := taskStatus{
			ID:       id,
			Status:   string(a.Status),
			Duration: time.Duration(a.DurationSeconds * float64(time.Second)),
			Reason:   a.Invalid(),
		}
		if ts.Status == "" {
			ts.Status = string(scheduler.StatusCompleted)
			if ts.Reason != "" {
				ts.Status = "incomplete"
			}
		}
		r.Counts[ts.Status]++
		r.Total++
		r.Duration += ts.Duration
		if a.Recovered {
			r.Recovered++
		}
		if a.APIError {
			r.APIErrors++
		}
		r.Tasks = append(r.Tasks, ts)
	}
	sort.Slice(r.Tasks, func(i, j int) bool { return r.Tasks[i].ID < r.Tasks[j].ID })
	return r, nil
}

func renderStatus(dir string, r *statusReport, details bool) string {
	lines := []string{titleStyle.Render("Results in " + dir), ""}
	if r.Total == 0 {
		lines = append(lines, "No results yet.")
		return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	}

	statuses := make([]string, 0, len(r.Counts))
	for s := range r.Counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	lines = append(lines, statLine("tasks", r.Total))
	for _, s := range statuses {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(s), statusText(fmt.Sprint(r.Counts[s]))))
	}
	lines = append(lines,
		statLine("recovered", r.Recovered),
		statLine("api errors", r.APIErrors),
		statLine("mean time", (r.Duration / time.Duration(r.Total)).Round(time.Second)),
	)

	if details {
		lines = append(lines, "")
		for _, t := range r.Tasks {
			if t.Reason == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s  %s  %s", t.ID, statusText(t.Status), truncate(t.Reason, 80)))
		}
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderSummary prints the outcome of a batch run.
func renderSummary(s *scheduler.Summary) string {
	lines := []string{
		titleStyle.Render("Batch finished"),
		"",
		statLine("tasks", s.Total),
		lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("completed"), statusText("completed")+" "+sprint(s.Completed)),
		lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("timed out"), statusText("timed_out")+" "+sprint(s.TimedOut)),
		lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render("errored"), statusText("errored")+" "+sprint(s.Errored)),
		statLine("skipped", s.Skipped),
		statLine("recovered", s.Recovered),
		statLine("duration", s.Duration.Round(time.Second)),
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func sprint(v any) string { return fmt.Sprint(v) }

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
