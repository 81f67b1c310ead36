package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Runner.MaxConcurrent)
	assert.Equal(t, "async", cfg.Runner.DefaultMode)
	assert.EqualValues(t, 1<<20, cfg.Runner.MaxLogBytesPerStream)
}

func TestLoadFromFile(t *testing.T) {
	path := writeTempConfig(t, `
runner:
  maxConcurrent: 2
  jobStoreFile: jobs.json
  logsDir: joblogs
scripts:
  - id: ok
    path: /bin/echo
    timeoutSec: 5
    args:
      maxItems: 2
      itemPattern: "^[a-z]+$"
      itemMaxLength: 32
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Runner.MaxConcurrent)
	require.Len(t, cfg.Scripts, 1)
	assert.Equal(t, "ok", cfg.Scripts[0].ID)
	assert.EqualValues(t, "async", cfg.Scripts[0].Mode) // inherited from runner.defaultMode
}

func TestLoadRejectsDuplicateScriptIDs(t *testing.T) {
	path := writeTempConfig(t, `
scripts:
  - id: dup
    path: /bin/echo
  - id: dup
    path: /bin/true
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "duplicate script id")
}

func TestLoadRejectsBadMaxConcurrent(t *testing.T) {
	path := writeTempConfig(t, `
runner:
  maxConcurrent: 0
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "maxConcurrent")
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeTempConfig(t, `
scripts:
  - id: bad
    path: /bin/echo
    mode: sometimes
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "mode")
}
