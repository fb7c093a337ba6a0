package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func heuristicConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moderator.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[classifier]
enabled = false

[store]
kind = "memory"
`), 0o600))
	return path
}

func TestClassifySpamIsRemoved(t *testing.T) {
	out, err := runCommand(t, "--config", heuristicConfig(t), "--log-level", "error",
		"classify", "--text", "buy now, click here for free money")
	require.NoError(t, err)

	var got classifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, moderation.CategorySpam, got.Category)
	assert.Equal(t, float64(90), got.Confidence)
	assert.Equal(t, moderation.StatusRemoved, got.Status)
	assert.True(t, got.Flagged)
	assert.Equal(t, "heuristic", got.Source)
}

func TestClassifySafeIsApproved(t *testing.T) {
	out, err := runCommand(t, "--config", heuristicConfig(t), "--log-level", "error",
		"classify", "--text", "Great product, highly recommend")
	require.NoError(t, err)

	var got classifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, moderation.CategorySafe, got.Category)
	assert.Equal(t, moderation.StatusApproved, got.Status)
}

func TestClassifyRequiresText(t *testing.T) {
	_, err := runCommand(t, "--config", heuristicConfig(t), "classify")
	assert.Error(t, err)
}

func TestInvalidConfigFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[broker]\nkind = \"carrier-pigeon\"\n"), 0o600))
	_, err := runCommand(t, "--config", path, "classify", "--text", "x")
	assert.Error(t, err)
}

func TestIngestRequiresURLs(t *testing.T) {
	_, err := runCommand(t, "--config", heuristicConfig(t), "ingest")
	assert.ErrorContains(t, err, "no feed urls")
}
