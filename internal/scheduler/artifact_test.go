package scheduler

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesearch/internal/memory"
	"tablesearch/internal/store"
)

func TestParseResultTakesLastFramedLine(t *testing.T) {
	var out bytes.Buffer
	out.WriteString("starting\n")
	require.NoError(t, ReportResult(&out, &Artifact{InstanceID: "a", Answer: "first"}))
	out.WriteString("more noise\n")
	require.NoError(t, ReportResult(&out, &Artifact{InstanceID: "a", Answer: "second"}))

	a, err := ParseResult(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "second", a.Answer)

	_, err = ParseResult([]byte("no result here\n"))
	assert.ErrorIs(t, err, ErrNoResult)

	_, err = ParseResult([]byte(ResultPrefix + "{broken\n"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoResult)
}

func TestIsCompleted(t *testing.T) {
	dir := t.TempDir()
	write := func(a *Artifact) {
		require.NoError(t, WriteArtifact(dir, a))
	}

	write(&Artifact{InstanceID: "done", Answer: "| a |", CompletionStatus: memory.StatusCompleted})
	write(&Artifact{InstanceID: "legacy", Answer: "| a |"})
	write(&Artifact{InstanceID: "failed", Answer: "x", Error: "boom"})
	write(&Artifact{InstanceID: "empty", Answer: "  "})
	write(&Artifact{InstanceID: "errtext", Answer: "Error: model refused"})
	write(&Artifact{InstanceID: "maxsteps", Answer: "partial", CompletionStatus: memory.StatusMaxSteps})
	write(&Artifact{InstanceID: "tags", Answer: "Thought: I should call a tool"})
	write(&Artifact{InstanceID: "timeout", Answer: "x", Timeout: true})
	write(&Artifact{InstanceID: "recovered", Answer: "```markdown\n| a |\n```", Timeout: true, Recovered: true})
	require.NoError(t, os.WriteFile(ArtifactPath(dir, "garbage"), []byte("{"), 0644))

	cases := map[string]bool{
		"done":      true,
		"legacy":    true,
		"failed":    false,
		"empty":     false,
		"errtext":   false,
		"maxsteps":  false,
		"tags":      false,
		"timeout":   false,
		"recovered": true,
		"garbage":   false,
		"absent":    false,
	}
	for id, want := range cases {
		assert.Equal(t, want, IsCompleted(dir, id), id)
	}
}

func TestExplicitStatusOverridesToolTags(t *testing.T) {
	a := &Artifact{Answer: `{"name": "Paris"}`, CompletionStatus: memory.StatusCompleted}
	assert.Empty(t, a.Invalid())
	a.CompletionStatus = ""
	assert.NotEmpty(t, a.Invalid())
}

func TestContainsToolTags(t *testing.T) {
	for _, s := range []string{
		"```json\n{}",
		"``` {\"x\": 1}",
		"action: search",
		`{"name": "search", "arguments": {"q": 1}}`,
		"{'arguments': {'q': 1}}",
		"Calling tools:",
	} {
		assert.True(t, ContainsToolTags(s), s)
	}
	assert.False(t, ContainsToolTags("| name | population |\n| --- | --- |\n| Paris | 2M |"))
}

func TestHasAPIErrorScansTail(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(WorkDir(dir, "api"), 0755))
	require.NoError(t, os.WriteFile(AgentLogPath(dir, "api"),
		[]byte("step 1\nError while generating output: RateLimitError\n"), 0644))
	assert.True(t, HasAPIError(dir, "api"))

	require.NoError(t, os.MkdirAll(WorkDir(dir, "old"), 0755))
	old := "RateLimitError at start\n" + strings.Repeat("fine\n", 2000)
	require.NoError(t, os.WriteFile(AgentLogPath(dir, "old"), []byte(old), 0644))
	assert.False(t, HasAPIError(dir, "old"))

	assert.False(t, HasAPIError(dir, "nolog"))
}

func TestRecoverFromTables(t *testing.T) {
	s, err := store.Open(store.DriverModernc, ":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, _, ok := RecoverFromTables(ctx, s, "ws_0001")
	assert.False(t, ok)
	_, _, ok = RecoverFromTables(ctx, nil, "ws_0001")
	assert.False(t, ok)

	_, err = s.DefineSchema(ctx, "ws_0001", "cities", []string{"name", "country"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "ws_0001", "cities", []map[string]any{{"name": "Paris", "country": "FR"}})
	require.NoError(t, err)

	answer, n, ok := RecoverFromTables(ctx, s, "ws_0001")
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.True(t, strings.HasPrefix(answer, "```markdown\n"), answer)
	assert.True(t, strings.HasSuffix(answer, "\n```"), answer)
	assert.Contains(t, answer, "Paris")
}
