package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
[log]
level = "debug"
modules = "vm,fingerprint"

[vm]
max_steps = 5000
strict_opcodes = true
timeout = "2s"

[fingerprint]
command = ["md5sum"]
timeout = "500ms"

[trace]
output = "run.parquet"
limit = 100

[coredump]
path = "core.cbor"
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "vm,fingerprint", c.Log.Modules)
	assert.Equal(t, int64(5000), c.VM.MaxSteps)
	assert.True(t, c.VM.StrictOpcodes)
	assert.Equal(t, 2*time.Second, c.VM.Timeout)
	assert.Equal(t, []string{"md5sum"}, c.Fingerprint.Command)
	assert.Equal(t, 500*time.Millisecond, c.Fingerprint.Timeout)
	assert.Equal(t, "run.parquet", c.Trace.Output)
	assert.Equal(t, 100, c.Trace.Limit)
	assert.Equal(t, "core.cbor", c.Coredump.Path)
	assert.Equal(t, path, c.Path)
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(writeConfig(t, t.TempDir(), "[vm]\nmax_steps = 10\n"))
	require.NoError(t, err)

	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, int64(10), c.VM.MaxSteps)
	assert.False(t, c.VM.StrictOpcodes)
	assert.Zero(t, c.VM.Timeout)
	assert.Empty(t, c.Fingerprint.Command)
	assert.Zero(t, c.Fingerprint.Timeout)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.ErrorContains(t, err, "cannot read")

	_, err = Load(writeConfig(t, t.TempDir(), "[vm\n"))
	assert.ErrorContains(t, err, "parse error")

	_, err = Load(writeConfig(t, t.TempDir(), "[vm]\nmax_steps = -1\n"))
	assert.ErrorContains(t, err, "max_steps")

	_, err = Load(writeConfig(t, t.TempDir(), "[fingerprint]\ntimeout = \"-1s\"\n"))
	assert.ErrorContains(t, err, "fingerprint.timeout")

	_, err = Load(writeConfig(t, t.TempDir(), "[vm]\ntimeout = \"soon\"\n"))
	assert.ErrorContains(t, err, "parse error")
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[log]\nlevel = \"info\"\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	c, err := FindAndLoad(nested)
	require.NoError(t, err)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, filepath.Join(root, FileName), c.Path)
}

func TestFindAndLoad_NoFile(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}
