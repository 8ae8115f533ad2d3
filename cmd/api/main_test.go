package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pepen/api/internal/directory"
)

func clearBackends(t *testing.T) {
	for _, key := range []string{"REDIS_URL", "DATABASE_URL", "MEILI_URL", "DIRECTORY_FILE", "COMPANY_EMAIL_DOMAINS"} {
		t.Setenv(key, "")
	}
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootRegistersCommands(t *testing.T) {
	clearBackends(t)
	cmd := newRootCommand()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["suggest"])
	assert.True(t, names["seed"])
	assert.NotNil(t, cmd.Flags().Lookup("addr"))
}

func TestSuggestCommandUsesStaticDirectory(t *testing.T) {
	clearBackends(t)

	out, err := run(t, "suggest", "soren", "--limit", "3")
	require.NoError(t, err)

	var items []directory.Suggestion
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	assert.Equal(t, []directory.Suggestion{{ID: "søren@company.dk", Display: "Søren"}}, items)
}

func TestSuggestCommandReadsDirectoryFile(t *testing.T) {
	clearBackends(t)
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`domains: [acme.dk]
entries:
  - email: ada@acme.dk
    display: Ada
  - email: anne.hansen@company.dk
`), 0o600))

	out, err := run(t, "suggest", "a", "--directory-file", path)
	require.NoError(t, err)

	var items []directory.Suggestion
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	assert.Equal(t, []directory.Suggestion{{ID: "ada@acme.dk", Display: "Ada"}}, items)
}

func TestSeedUsesBuiltInEntries(t *testing.T) {
	clearBackends(t)

	out, err := run(t, "seed")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("seeded %d entries into [static]\n", len(directory.DefaultEntries)), out)
}

func TestSeedRejectsMissingFile(t *testing.T) {
	clearBackends(t)

	_, err := run(t, "seed", "--directory-file", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
