package util

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSymlink(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "a.yaml")
	link := filepath.Join(tmpDir, "default.yaml")
	require.NoError(t, os.WriteFile(target, []byte("name: a\n"), 0644))

	require.NoError(t, CreateSymlink(target, link, false))
	require.Error(t, CreateSymlink(target, link, false))

	other := filepath.Join(tmpDir, "b.yaml")
	require.NoError(t, CreateSymlink(other, link, true))
	resolved, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, other, resolved)
}

func TestParseAndWriteYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, WriteYaml(path, map[string]any{"zone": "us-east1-b"}))

	raw, err := ParseYAML(path)
	require.NoError(t, err)
	assert.Equal(t, "us-east1-b", raw["zone"])

	_, err = ParseYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	home, err := GetHomeDir()
	require.NoError(t, err)

	path, err := ExpandHome("~/.hermit")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".hermit"), path)

	path, err = ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", path)
}

func TestRunWithSpinner(t *testing.T) {
	called := false
	err := RunWithSpinner("Starting", func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	err = RunWithSpinner("", func() error { return os.ErrNotExist })
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAskValue(t *testing.T) {
	var out bytes.Buffer
	value, err := AskValue(bytes.NewBufferString("  box-pd \n"), &out, "Disk name: ")
	require.NoError(t, err)
	assert.Equal(t, "box-pd", value)
	assert.Equal(t, "Disk name: ", out.String())

	value, err = AskValue(bytes.NewBufferString("box-pd"), &out, "Disk name: ")
	require.NoError(t, err)
	assert.Equal(t, "box-pd", value)

	_, err = AskValue(bytes.NewBufferString(""), &out, "Disk name: ")
	require.ErrorIs(t, err, ErrCmdAbort)
}
