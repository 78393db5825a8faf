package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermitcrab/hermit/cli/bootlog"
	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/configure"
	"github.com/hermitcrab/hermit/cli/idle"
	"github.com/hermitcrab/hermit/cli/lifecycle"
	"github.com/hermitcrab/hermit/cli/retry"
	"github.com/hermitcrab/hermit/cli/tunnel"
	"github.com/hermitcrab/hermit/cli/util"
)

func TestRootFlags(t *testing.T) {
	rootCmd = NewCmdRoot()
	rootCmd.ParseFlags([]string{"--cfg", "one.yaml", "-v", "status", "--cfg", "second.yaml"})
	assert.Equal(t, "one.yaml", cmdCtx.Cli.ConfigPath)
	assert.True(t, cmdCtx.Cli.Verbose)
}

// setupEnv writes a hermit configuration using a fake gcloud which reports
// every instance as running.
func setupEnv(t *testing.T) string {
	return setupEnvWithGcloud(t, "#!/bin/sh\necho RUNNING\n")
}

// setupEnvWithGcloud writes a hermit configuration using the gcloud script.
func setupEnvWithGcloud(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	gcloud := filepath.Join(dir, "gcloud")
	require.NoError(t, os.WriteFile(gcloud, []byte(script), 0o755))

	cfgPath := filepath.Join(dir, configure.ConfigName)
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`hermit:
  instances_dir: instances
  tunnel_dir: tunnels
  gcloud: %s
`, gcloud)), 0o644))
	return cfgPath
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd = NewCmdRoot()
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCreateAndStatus(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	cfgPath := setupEnv(t)
	execute(t, "--cfg", cfgPath, "create", "dev", "--zone", "us-central1-a",
		"--project", "proj", "--image", "us.gcr.io/proj/dev-env:v1", "--existing-disk")
	execute(t, "--cfg", cfgPath, "create", "other", "--zone", "us-central1-a",
		"--project", "proj", "--image", "us.gcr.io/proj/dev-env:v1", "--pd-name", "other-home",
		"--existing-disk")

	store := configure.NewInstanceStore(filepath.Join(filepath.Dir(cfgPath), "instances"))
	dev, err := store.Load("dev")
	require.NoError(t, err)
	assert.Equal(t, 3022, dev.LocalPort)
	assert.Equal(t, "dev-pd", dev.PDName)
	assert.Equal(t, defaultMachineType, dev.MachineType)
	assert.Equal(t, defaultIdleTimeout, dev.IdleTimeoutMinutes)

	other, err := store.Load("other")
	require.NoError(t, err)
	assert.Equal(t, 3023, other.LocalPort)
	assert.Equal(t, "other-home", other.PDName)
	assert.Equal(t, "other", store.DefaultInstance())

	out := execute(t, "--cfg", cfgPath, "status")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"dev", "RUNNING", "--", "3022"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"other", "RUNNING", "--", "3023", "(default)"},
		strings.Fields(lines[2]))

	out = execute(t, "--cfg", cfgPath, "tunnel", "status", "dev")
	assert.Equal(t, "dev: NOT RUNNING\n", out)
}

func TestCreateAndDelete(t *testing.T) {
	dir := t.TempDir()
	callsFile := filepath.Join(dir, "calls")
	// No instance exists, the disk exists once it is created.
	cfgPath := setupEnvWithGcloud(t, fmt.Sprintf(`#!/bin/sh
echo "$@" >> %[1]s
if [ "$2 $3" = "disks list" ] && grep -q "disks create" %[1]s; then
	echo dev-pd
fi
if [ "$2 $3" = "instances list" ] && grep -q "instances create" %[1]s && \
	! grep -q "instances delete" %[1]s; then
	echo TERMINATED
fi
`, callsFile))

	execute(t, "--cfg", cfgPath, "create", "dev", "--zone", "us-central1-a",
		"--project", "proj", "--image", "us.gcr.io/proj/dev-env:v1", "--disk-size", "20")
	store := configure.NewInstanceStore(filepath.Join(filepath.Dir(cfgPath), "instances"))
	_, err := store.Load("dev")
	require.NoError(t, err)

	var out bytes.Buffer
	rootCmd = NewCmdRoot()
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader("dev-pd\n"))
	rootCmd.SetArgs([]string{"--cfg", cfgPath, "delete", "dev"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "type the name of the disk 'dev-pd'")

	_, err = store.Load("dev")
	require.Error(t, err)
	calls, err := os.ReadFile(callsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(calls)), "\n")
	assert.Contains(t, lines, "compute disks create dev-pd --size=20GB --type=pd-standard "+
		"--zone=us-central1-a --project=proj")
	assert.Contains(t, lines, "compute instances delete dev --quiet "+
		"--zone=us-central1-a --project=proj")
	assert.Equal(t, "compute disks delete dev-pd --quiet --zone=us-central1-a --project=proj",
		lines[len(lines)-1])
}

func TestConfirmDiskDeletion(t *testing.T) {
	cfg := config.InstanceConfig{Name: "dev", PDName: "dev-pd"}
	var out bytes.Buffer
	require.NoError(t, confirmDiskDeletion(strings.NewReader("dev-pd\n"), &out)(cfg))

	err := confirmDiskDeletion(strings.NewReader("dev\n"), &out)(cfg)
	require.ErrorContains(t, err, `typed value "dev" did not match the disk name "dev-pd"`)

	err = confirmDiskDeletion(strings.NewReader(""), &out)(cfg)
	require.ErrorIs(t, err, util.ErrCmdAbort)
}

func TestNextFreePortEmpty(t *testing.T) {
	port, err := nextFreePort(configure.NewInstanceStore(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 3022, port)
}

func TestVersionCmd(t *testing.T) {
	out := execute(t, "version")
	assert.True(t, strings.HasPrefix(out, "hermit version "))
}

func TestHint(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&bootlog.TimeoutError{}, "hermit up -v"},
		{&lifecycle.TunnelRunningError{Name: "dev"}, "hermit down dev"},
		{&lifecycle.InstanceExistsError{Name: "dev"}, "remove the instance first"},
		{fmt.Errorf("up: %w", &bootlog.FatalBootError{}), "cannot boot"},
		{&tunnel.UnexpectedTerminationError{Name: "dev"}, "hermit tunnel log dev"},
		{retry.NewReasonError(retry.ReasonPermissionDenied, "compute instances list",
			errors.New("denied")), "gcloud account"},
		{retry.NewReasonError(retry.ReasonApiNotEnabled, "compute instances list",
			errors.New("disabled")), "Compute Engine API"},
		{configure.ErrNoDefault, "pass an instance name"},
		{errors.New("other"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if tt.want == "" {
				assert.Empty(t, hint(tt.err))
				return
			}
			assert.Contains(t, hint(tt.err), tt.want)
		})
	}
}

func TestIdleMonitorSettings(t *testing.T) {
	t.Setenv("HERMIT_IDLE_NAME", "dev")
	t.Setenv("HERMIT_IDLE_ZONE", "europe-west1-b")
	t.Setenv("HERMIT_IDLE_PROJECT", "")
	t.Setenv("HERMIT_IDLE_IDLE_TIMEOUT", "45m")

	cmd := NewIdleMonitorCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--zone", "us-east1-c", "--suspend-via", "gcloud"}))
	assert.Equal(t, "dev", idleSettings.Name)
	assert.Equal(t, "us-east1-c", idleSettings.Zone)
	assert.Equal(t, 45*time.Minute, idleSettings.IdleTimeout)
	assert.Equal(t, "gcloud", idleSettings.SuspendVia)

	err := internalIdleMonitor(cmd, nil)
	var argErr *util.ArgError
	require.ErrorAs(t, err, &argErr)
	assert.Contains(t, err.Error(), "project")
}

func TestDaemonLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "idle.log")
	logger := newDaemonLogger(idle.Settings{LogFile: logFile, LogMaxSize: 5})
	defer logger.Close()
	assert.Equal(t, logFile, logger.GetOpts().Filename)
	assert.Equal(t, 5, logger.GetOpts().MaxSize)

	stderr := newDaemonLogger(idle.Settings{})
	assert.Empty(t, stderr.GetOpts().Filename)
}
