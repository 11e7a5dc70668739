package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"parse", "questions", "export", "validate", "requirements", "jobs", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "tender-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestParseCommand_Flags(t *testing.T) {
	for _, name := range []string{"project", "doc", "file", "text-file", "format"} {
		assert.NotNil(t, parseCmd.Flags().Lookup(name), "parse should have --%s flag", name)
	}
	assert.Equal(t, "text", parseCmd.Flags().Lookup("format").DefValue)
}

func TestExportCommand_Flags(t *testing.T) {
	for _, name := range []string{"project", "doc", "answers", "out", "report-format", "report-xlsx"} {
		assert.NotNil(t, exportCmd.Flags().Lookup(name), "export should have --%s flag", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRequirementsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range requirementsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["list"])

	flag := requirementsRunCmd.Flags().Lookup("source")
	require.NotNil(t, flag)
	assert.Equal(t, "[]", flag.DefValue)
}

func TestJobsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range jobsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])

	flag := jobsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}
