package scheduler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"tablesearch/internal/governor"
	"tablesearch/internal/memory"
	"tablesearch/internal/usage"
)

// ResultPrefix frames the one result line a worker process writes to stdout.
const ResultPrefix = "@@TABLESEARCH_RESULT@@ "

// ErrNoResult is returned by ParseResult when the output holds no result line.
var ErrNoResult = errors.New("no result reported")

// Artifact is the persisted per-task result, {output}/{instance_id}.json.
type Artifact struct {
	InstanceID      string                 `json:"instance_id"`
	TaskID          string                 `json:"task_id"`
	Query           string                 `json:"query"`
	Answer          string                 `json:"answer"`
	Error           string                 `json:"error"`
	Timeout         bool                   `json:"timeout"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         time.Time              `json:"end_time"`
	DurationSeconds float64                `json:"duration_seconds"`
	Models          map[string]string      `json:"models,omitempty"`
	Statistics      *governor.Snapshot     `json:"managed_agent_statistics,omitempty"`
	TokenUsage      *usage.AggregatedStats `json:"token_usage,omitempty"`

	CompletionStatus memory.CompletionStatus `json:"completion_status,omitempty"`

	// Set by the scheduler.
	Status          Status `json:"status,omitempty"`
	Recovered       bool   `json:"recovered_from_tables,omitempty"`
	RecoveredTables int    `json:"recovered_tables_count,omitempty"`
	OriginalError   string `json:"original_error,omitempty"`
	APIError        bool   `json:"api_error,omitempty"`
}

// ArtifactPath returns the artifact location of a task.
func ArtifactPath(outputDir, id string) string {
	return filepath.Join(outputDir, id+".json")
}

// WorkDir returns the per-task scratch directory.
func WorkDir(outputDir, id string) string {
	return filepath.Join(outputDir, "work", id)
}

// AgentLogPath returns the per-task agent log.
func AgentLogPath(outputDir, id string) string {
	return filepath.Join(WorkDir(outputDir, id), "agent_log.txt")
}

// ReadArtifact loads the artifact of a task.
func ReadArtifact(outputDir, id string) (*Artifact, error) {
	data, err := os.ReadFile(ArtifactPath(outputDir, id))
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", id, err)
	}
	return &a, nil
}

// WriteArtifact persists a through a temp file and rename, so readers never
// see a partial artifact.
func WriteArtifact(outputDir string, a *Artifact) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	path := ArtifactPath(outputDir, a.InstanceID)
	tmp, err := os.CreateTemp(outputDir, "."+a.InstanceID+".*.tmp")
	if err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// ReportResult writes a as the single framed result line.
func ReportResult(w io.Writer, a *Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s%s\n", ResultPrefix, data)
	return err
}

// ParseResult finds the last framed result line in a worker's stdout.
func ParseResult(stdout []byte) (*Artifact, error) {
	var last []byte
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		if line := sc.Bytes(); bytes.HasPrefix(line, []byte(ResultPrefix)) {
			last = append(last[:0], line[len(ResultPrefix):]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan worker output: %w", err)
	}
	if last == nil {
		return nil, ErrNoResult
	}
	var a Artifact
	if err := json.Unmarshal(last, &a); err != nil {
		return nil, fmt.Errorf("parse worker result: %w", err)
	}
	return &a, nil
}

// Invalid returns why a is not a clean answer, or "" when it is. An
// explicit completion status decides; the tool-call marker check only
// applies to artifacts written without one.
func (a *Artifact) Invalid() string {
	answer := strings.TrimSpace(a.Answer)
	switch {
	case a.Error != "":
		return "error: " + a.Error
	case a.Timeout && !a.Recovered:
		return "timed out"
	case answer == "":
		return "empty answer"
	case strings.HasPrefix(answer, "Error:"):
		return "answer is an error message"
	case a.CompletionStatus != "" && a.CompletionStatus != memory.StatusCompleted && !a.Recovered:
		return "completion status " + string(a.CompletionStatus)
	case a.CompletionStatus == "" && ContainsToolTags(answer):
		return "answer contains tool-call markers"
	}
	return ""
}

// IsCompleted reports whether the task already has a usable artifact.
// Absent, unreadable, erroneous, empty or interrupted artifacts are not complete.
func IsCompleted(outputDir, id string) bool {
	a, err := ReadArtifact(outputDir, id)
	if err != nil {
		return false
	}
	return a.Invalid() == ""
}

var toolTagPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?im)```json"),
	regexp.MustCompile("(?im)```\\s*\\{"),
	regexp.MustCompile(`(?im)Action:\s*`),
	regexp.MustCompile(`(?im)Thought:\s*`),
	regexp.MustCompile(`(?im)"name":\s*"[^"]*"`),
	regexp.MustCompile(`(?im)'name':\s*'[^']*'`),
	regexp.MustCompile(`(?im)'arguments':\s*\{`),
	regexp.MustCompile(`(?im)"arguments":\s*\{`),
	regexp.MustCompile(`(?im)Calling tools`),
}

// ContainsToolTags reports residual tool-call syntax in an answer, the
// trace of a reasoning loop interrupted mid-action.
func ContainsToolTags(text string) bool {
	for _, re := range toolTagPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
