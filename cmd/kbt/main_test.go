package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MithilHassan/kbt-express/internal/app"
	_ "github.com/MithilHassan/kbt-express/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	assert.True(t, app.InTestMode())
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand(func() {})
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "hash-token", "jobs"})

	jobsCmd, _, err := root.Find([]string{"jobs", "inspect"})
	require.NoError(t, err)
	assert.Equal(t, "inspect", jobsCmd.Name())
}

func TestHashTokenSubcommandRejectsShortToken(t *testing.T) {
	root := newRootCommand(func() {})
	var stderr bytes.Buffer
	root.SetErr(&stderr)
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"hash-token", "--token", "short"})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, exitCode(1), err)
	assert.True(t, strings.Contains(stderr.String(), "at least 16 characters"))
}
