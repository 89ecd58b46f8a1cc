package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	root := NewRootCommand("test")
	require.NotNil(t, root)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["status"])
}

func TestRootCommand_HelpMentionsOrchestration(t *testing.T) {
	root := NewRootCommand("test")
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})

	_ = root.Execute()
	assert.Contains(t, buf.String(), "orchestration")
}

func TestStatusCommand_ReportsNoTasksForEmptyStore(t *testing.T) {
	root := NewRootCommand("test")
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"status", "--repo", t.TempDir()})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no tasks found")
}
