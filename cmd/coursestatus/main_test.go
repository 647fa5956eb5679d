package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	cfgpkg "github.com/hari-yahoo/CourseStatus/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.Execute()
	return buf.String(), err
}

func TestConfigPrintMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coursestatus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry_limit: 5\npostgres:\n  host: db\n  password: hunter2\n"), 0o600))
	t.Setenv("COURSESTATUS_WORKERS", "7")

	out, err := execute(t, "config", "print", "--config", path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, 5, got["retry_limit"])
	assert.Equal(t, 7, got["workers"])
	pg := got["postgres"].(map[string]any)
	assert.Equal(t, "db", pg["host"])
	assert.Equal(t, "***", pg["password"])
}

func TestConfigPrintRejectsInvalidConfig(t *testing.T) {
	t.Setenv("COURSESTATUS_RETRY_LIMIT", "0")
	_, err := execute(t, "config", "print")
	assert.Error(t, err)
}

func TestServerFlagsOverrideConfig(t *testing.T) {
	cmd := newRootCmd()
	start, _, err := cmd.Find([]string{"server", "start"})
	require.NoError(t, err)
	require.NoError(t, start.Flags().Parse([]string{"--retry-limit", "9", "--http", ":1234", "--log-format", "json"}))

	cfg := cfgpkg.Default()
	applyServerFlags(start, &cfg)
	assert.Equal(t, 9, cfg.RetryLimit)
	assert.Equal(t, ":1234", cfg.HTTPAddr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
}

func TestDotEnvLoadedBeforeResolve(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("COURSESTATUS_DEFAULT_GROUP=FromDotEnv\n"), 0o600))
	t.Setenv("COURSESTATUS_DEFAULT_GROUP", "")
	require.NoError(t, os.Unsetenv("COURSESTATUS_DEFAULT_GROUP"))

	cmd := newRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"config", "print", "--env-file", envFile})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "default_group: FromDotEnv")
}
