package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBuiltinSets(t *testing.T) {
	for _, name := range []string{MainSet, TabularSet, DeepSet} {
		t.Run(name, func(t *testing.T) {
			s, err := Load(name)
			require.NoError(t, err)
			assert.NotEmpty(t, s.System)
			assert.NotEmpty(t, s.Planning.Initial)
			assert.NotEmpty(t, s.ManagedAgent.Task)
			assert.NotEmpty(t, s.ManagedAgent.Report)
		})
	}
}

func TestLoadUnknownSet(t *testing.T) {
	_, err := Load("nope")
	assert.ErrorIs(t, err, ErrUnknownSet)
}

func TestRenderSystemPrompt(t *testing.T) {
	s := MustLoad(MainSet)
	out, err := Render("system_prompt", s.System, Data{
		AgentName:     "main_agent",
		Tools:         []ToolInfo{{Name: "search", Description: "Web search."}},
		ManagedAgents: []ToolInfo{{Name: "tabular_search_agent", Description: "Finds rows."}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "You are main_agent,"), out)
	assert.Contains(t, out, "- search: Web search.")
	assert.Contains(t, out, "- tabular_search_agent: Finds rows.")
}

func TestRenderReport(t *testing.T) {
	s := MustLoad(TabularSet)
	out, err := Render("report", s.ManagedAgent.Report, Data{AgentName: "tabular_search_agent", Answer: "added 4 rows"})
	require.NoError(t, err)
	assert.Equal(t, "Report from 'tabular_search_agent':\n---\nadded 4 rows", out)
}

func TestRenderEmptyAndInvalid(t *testing.T) {
	out, err := Render("empty", "  \n", Data{Task: "x"})
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = Render("bad", "{{.Task", Data{})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.Error(t, Set{}.Validate())
	assert.Error(t, Set{System: "ok", Planning: PlanningTemplates{Initial: "{{if}}"}}.Validate())
	assert.NoError(t, Set{System: "ok"}.Validate())
}

func TestLoadWithOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DeepSet+".yaml"),
		[]byte("system_prompt: custom {{.AgentName}}\n"), 0o644))

	s, err := LoadWithOverrides(dir, DeepSet)
	require.NoError(t, err)
	assert.Equal(t, "custom {{.AgentName}}", s.System)

	// No override file: built-in set.
	s, err = LoadWithOverrides(dir, MainSet)
	require.NoError(t, err)
	assert.Equal(t, MustLoad(MainSet).System, s.System)

	require.NoError(t, os.WriteFile(filepath.Join(dir, TabularSet+".yaml"), []byte("system_prompt: \"\"\n"), 0o644))
	_, err = LoadWithOverrides(dir, TabularSet)
	assert.Error(t, err)
}
