package configure

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermitcrab/hermit/cli/cmdcontext"
	"github.com/hermitcrab/hermit/cli/config"
)

func TestGetDefaultCliOpts(t *testing.T) {
	opts := GetDefaultCliOpts("/home/user")
	assert.Equal(t, "/home/user/.hermit/instances", opts.InstancesDir)
	assert.Equal(t, "/home/user/.hermit/tunnels", opts.TunnelDir)
	assert.Equal(t, time.Hour, opts.Boot.Timeout)
	assert.Equal(t, 5*time.Minute, opts.Tunnel.HealthTimeout)
	assert.EqualValues(t, 10, opts.Tunnel.StartAttempts)
	assert.Equal(t, time.Second, opts.Tunnel.StartDelay)
}

func TestGetCliOptsMissingFile(t *testing.T) {
	opts, err := GetCliOpts(filepath.Join(t.TempDir(), ConfigName))
	require.NoError(t, err)
	assert.Equal(t, "gcloud", opts.GcloudBin)
	assert.Equal(t, time.Second, opts.Boot.PollInterval)
}

func TestGetCliOptsOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ConfigName)
	require.NoError(t, os.WriteFile(configPath, []byte(`hermit:
  tunnel_dir: run/tunnels
  instances_dir: /abs/instances
  gcloud: /opt/google/bin/gcloud
  boot:
    timeout: 30m
  tunnel:
    start_attempts: 3
    stop_timeout: 2s
`), 0644))

	opts, err := GetCliOpts(configPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run", "tunnels"), opts.TunnelDir)
	assert.Equal(t, "/abs/instances", opts.InstancesDir)
	assert.Equal(t, "/opt/google/bin/gcloud", opts.GcloudBin)
	assert.Equal(t, 30*time.Minute, opts.Boot.Timeout)
	// Unset values keep defaults.
	assert.Equal(t, time.Second, opts.Boot.PollInterval)
	assert.EqualValues(t, 3, opts.Tunnel.StartAttempts)
	assert.Equal(t, 2*time.Second, opts.Tunnel.StopTimeout)
	assert.Equal(t, 5*time.Minute, opts.Tunnel.HealthTimeout)
}

func TestGetCliOptsBadDuration(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ConfigName)
	require.NoError(t, os.WriteFile(configPath,
		[]byte("hermit:\n  boot:\n    timeout: soon\n"), 0644))

	_, err := GetCliOpts(configPath)
	require.Error(t, err)
}

func TestCli(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ConfigName)
	cmdCtx := cmdcontext.CmdCtx{}
	cmdCtx.Cli.ConfigPath = configPath

	require.NoError(t, Cli(&cmdCtx))
	assert.Equal(t, configPath, cmdCtx.Cli.ConfigPath)
	require.NotNil(t, cmdCtx.CliOpts)
	assert.Equal(t, "gcloud", cmdCtx.CliOpts.GcloudBin)
}

func testInstance(name string) config.InstanceConfig {
	return config.InstanceConfig{
		Name:               name,
		Zone:               "us-central1-a",
		Project:            "dev-project",
		MachineType:        "e2-standard-4",
		DockerImage:        "ghcr.io/me/devbox:latest",
		PDName:             name + "-pd",
		LocalPort:          2222,
		BootDiskSizeGB:     20,
		IdleTimeoutMinutes: 30,
	}
}

func TestInstanceStore(t *testing.T) {
	store := NewInstanceStore(filepath.Join(t.TempDir(), "instances"))

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = store.Load("")
	require.ErrorIs(t, err, ErrNoDefault)

	require.NoError(t, store.Save(testInstance("box-b")))
	require.NoError(t, store.Save(testInstance("box-a")))

	cfg, err := store.Load("box-a")
	require.NoError(t, err)
	assert.Equal(t, testInstance("box-a"), cfg)

	require.NoError(t, store.SetDefault("box-b"))
	assert.Equal(t, "box-b", store.DefaultInstance())
	cfg, err = store.Load("")
	require.NoError(t, err)
	assert.Equal(t, "box-b", cfg.Name)

	names, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"box-a", "box-b"}, names)

	require.NoError(t, store.Delete("box-b"))
	assert.Equal(t, "", store.DefaultInstance())
	names, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"box-a"}, names)
}

func TestInstanceStoreErrors(t *testing.T) {
	store := NewInstanceStore(t.TempDir())

	_, err := store.Load("nope")
	require.ErrorContains(t, err, "hermit create")

	require.Error(t, store.Save(testInstance(DefaultName)))

	bad := testInstance("bad")
	bad.LocalPort = 0
	require.Error(t, store.Save(bad))

	require.Error(t, store.SetDefault("nope"))
}
