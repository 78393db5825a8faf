package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermitcrab/hermit/cli/bootlog"
	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/configure"
	"github.com/hermitcrab/hermit/cli/gcloud"
	"github.com/hermitcrab/hermit/cli/process_utils"
	"github.com/hermitcrab/hermit/cli/retry"
	"github.com/hermitcrab/hermit/cli/status"
	"github.com/hermitcrab/hermit/cli/tunnel"
)

const helperEnv = "HERMIT_LIFECYCLE_TUNNEL"

// TestHelperProcess is not a real test. It is run as the tunnel process.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) == "" {
		return
	}
	port := os.Args[len(os.Args)-1]
	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", port))
	if err != nil {
		fmt.Println("ERROR:", err)
		os.Exit(2)
	}
	fmt.Println("Listening on port", port)
	for {
		conn, err := listener.Accept()
		if err != nil {
			os.Exit(3)
		}
		conn.Close()
	}
}

func helperCommand(_ string, localPort int) *exec.Cmd {
	cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--",
		strconv.Itoa(localPort))
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	return cmd
}

type fakeProvider struct {
	statuses map[string]gcloud.InstanceStatus
	disks    map[string]bool
	err      error
	calls    []string
}

func (p *fakeProvider) InstanceStatus(_ context.Context, ref config.InstanceRef) (
	gcloud.InstanceStatus, error) {
	p.calls = append(p.calls, "status "+ref.Name)
	if p.err != nil {
		return gcloud.StatusAbsent, p.err
	}
	return p.statuses[ref.Name], nil
}

func (p *fakeProvider) Create(_ context.Context, cfg config.InstanceConfig,
	description string) error {
	p.calls = append(p.calls, "create "+cfg.Name+" "+description)
	p.statuses[cfg.Name] = gcloud.StatusRunning
	return nil
}

func (p *fakeProvider) Resume(_ context.Context, ref config.InstanceRef) error {
	p.calls = append(p.calls, "resume "+ref.Name)
	p.statuses[ref.Name] = gcloud.StatusRunning
	return nil
}

func (p *fakeProvider) Delete(_ context.Context, ref config.InstanceRef) error {
	p.calls = append(p.calls, "delete "+ref.Name)
	delete(p.statuses, ref.Name)
	return nil
}

func (p *fakeProvider) DiskExists(_ context.Context, _ config.InstanceRef, name string) (bool,
	error) {
	p.calls = append(p.calls, "disk exists "+name)
	return p.disks[name], nil
}

func (p *fakeProvider) CreateDisk(_ context.Context, _ config.InstanceRef,
	disk gcloud.DiskSpec) error {
	p.calls = append(p.calls, fmt.Sprintf("create disk %s %dGB %s", disk.Name, disk.SizeGB,
		disk.Type))
	p.disks[disk.Name] = true
	return nil
}

func (p *fakeProvider) FormatDisk(_ context.Context, cfg config.InstanceConfig) error {
	p.calls = append(p.calls, "format disk "+cfg.PDName+" via "+cfg.Name)
	return nil
}

func (p *fakeProvider) DeleteDisk(_ context.Context, _ config.InstanceRef, name string) error {
	p.calls = append(p.calls, "delete disk "+name)
	delete(p.disks, name)
	return nil
}

// bootRunner serves a boot log which grows with every fetch.
type bootRunner struct {
	chunks []string
	calls  int
}

func (r *bootRunner) RunRemoteCommand(_ context.Context, _ config.InstanceRef, _ string,
	_ time.Duration) (bootlog.RemoteResult, error) {
	if r.calls == 0 {
		r.calls++
		return bootlog.RemoteResult{
			Stderr:   "ssh: connect to host 10.0.0.2 port 22: Connection refused",
			ExitCode: 255,
		}, nil
	}
	n := min(r.calls, len(r.chunks))
	r.calls++
	log := ""
	for _, chunk := range r.chunks[:n] {
		log += chunk
	}
	return bootlog.RemoteResult{Stdout: log}, nil
}

var bootChunks = []string{
	"Starting cloudinit bootcmd...\nChecking filesystem /dev/disk/by-id/google-box-pd\n",
	"1 0 3200 /dev/sdb\n5 3199 3200 /dev/sdb\n",
	"Finished checking filesystem /dev/disk/by-id/google-box-pd\n" +
		"latest: Pulling from dev/hermit-dev-env\n",
	"Server listening on 0.0.0.0 port 3022.\n",
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

type testEnv struct {
	manager  *Manager
	provider *fakeProvider
	runner   *bootRunner
	tunnels  *tunnel.Supervisor
	store    *configure.InstanceStore
	output   []string
	steps    []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		provider: &fakeProvider{
			statuses: map[string]gcloud.InstanceStatus{},
			disks:    map[string]bool{},
		},
		runner:   &bootRunner{chunks: bootChunks},
		store:    configure.NewInstanceStore(t.TempDir()),
	}
	watcher := bootlog.NewWatcher(env.runner, bootlog.WatcherOpts{
		Timeout:      time.Minute,
		PollInterval: time.Millisecond,
		FetchTimeout: time.Second,
		FetchRetries: 2,
	})
	watcher.Output = func(line string) { env.output = append(env.output, line) }
	env.tunnels = tunnel.NewSupervisor(t.TempDir(), helperCommand, config.TunnelOpts{
		HealthTimeout: 10 * time.Second,
		StartAttempts: 2,
		StartDelay:    10 * time.Millisecond,
		StopTimeout:   5 * time.Second,
	})
	env.manager = NewManager(env.provider, watcher, env.tunnels, env.store)
	env.manager.Description = "hermit test"
	env.manager.RunStep = func(prefix string, action func() error) error {
		env.steps = append(env.steps, prefix)
		return action()
	}
	t.Cleanup(func() {
		for _, name := range []string{"box", "other"} {
			env.tunnels.Stop(name)
		}
	})
	return env
}

func (env *testEnv) instance(t *testing.T, name string) config.InstanceConfig {
	t.Helper()
	cfg := config.InstanceConfig{
		Name:        name,
		Zone:        "us-central1-a",
		Project:     "dev",
		MachineType: "n2-standard-2",
		DockerImage: "us.gcr.io/dev/hermit-dev-env:v1",
		PDName:      name + "-pd",
		LocalPort:   freePort(t),
	}
	require.NoError(t, env.store.Save(cfg))
	return cfg
}

func TestUpDownEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.instance(t, "box")

	handle, err := env.manager.Up(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, cfg.LocalPort, handle.LocalPort)
	assert.Equal(t, []string{"status box", "create box hermit test"}, env.provider.calls)
	assert.Equal(t, []string{
		"[from /var/log/hermit.log] Starting check filesystem",
		"[from /var/log/hermit.log] Progress (Phase 5): 99%",
		"[from /var/log/hermit.log] Finished checking filesystem",
		"[from /var/log/hermit.log] Pulling from dev/hermit-dev-env",
		"[from /var/log/hermit.log] Server listening on 0.0.0.0 port 3022.",
	}, env.output)
	assert.Len(t, env.steps, 1)
	assert.True(t, env.tunnels.IsRunning("box"))
	assert.Equal(t, "box", env.store.DefaultInstance())

	conn, err := net.Dial("tcp", net.JoinHostPort("localhost", strconv.Itoa(cfg.LocalPort)))
	require.NoError(t, err)
	conn.Close()

	rows := env.manager.Status(context.Background(), []config.InstanceConfig{cfg})
	require.Len(t, rows, 1)
	assert.Equal(t, status.Row{
		Name:      "box",
		Status:    "RUNNING",
		LocalPort: cfg.LocalPort,
		TunnelPID: handle.PID,
		Default:   true,
	}, rows[0])

	require.NoError(t, env.manager.Down(context.Background(), cfg))
	assert.False(t, env.tunnels.IsRunning("box"))
	alive, _ := process_utils.IsProcessAlive(handle.PID)
	assert.False(t, alive)
	assert.Equal(t, "delete box", env.provider.calls[len(env.provider.calls)-1])

	rows = env.manager.Status(context.Background(), []config.InstanceConfig{cfg})
	assert.Equal(t, status.StatusOffline, rows[0].Status)
	assert.Zero(t, rows[0].TunnelPID)

	// Nothing is left to stop or delete.
	calls := len(env.provider.calls)
	require.NoError(t, env.manager.Down(context.Background(), cfg))
	assert.Equal(t, []string{"status box"}, env.provider.calls[calls:])
}

func TestUpRestartsTunnel(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.instance(t, "box")
	env.provider.statuses["box"] = gcloud.StatusSuspended

	first, err := env.manager.Up(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"status box", "resume box"}, env.provider.calls)

	env.runner.calls = 0
	second, err := env.manager.Up(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotEqual(t, first.PID, second.PID)
	alive, _ := process_utils.IsProcessAlive(first.PID)
	assert.False(t, alive)
	assert.True(t, env.tunnels.IsRunning("box"))
	// The instance was already running the second time.
	assert.Equal(t, []string{"status box", "resume box", "status box"}, env.provider.calls)
}

func TestUpRefusedStatuses(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.instance(t, "box")

	env.provider.statuses["box"] = gcloud.StatusTerminated
	_, err := env.manager.Up(context.Background(), cfg)
	var terminated *TerminatedError
	require.ErrorAs(t, err, &terminated)
	assert.Contains(t, err.Error(), "manually delete it")

	env.provider.statuses["box"] = "STOPPING"
	_, err = env.manager.Up(context.Background(), cfg)
	var unexpected *UnexpectedStatusError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, gcloud.InstanceStatus("STOPPING"), unexpected.Status)

	assert.Zero(t, env.runner.calls)
	assert.False(t, env.tunnels.IsRunning("box"))
	assert.Empty(t, env.store.DefaultInstance())
}

func TestUpFatalBoot(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.instance(t, "box")
	env.runner.chunks = []string{
		"Checking filesystem /dev/disk/by-id/google-box-pd\n" +
			"fsck.ext4: Attempt to read block from filesystem resulted in short read\n" +
			"The superblock could not be read or does not describe a valid ext2/ext3/ext4\n",
	}

	_, err := env.manager.Up(context.Background(), cfg)
	var fatal *bootlog.FatalBootError
	require.ErrorAs(t, err, &fatal)
	assert.Empty(t, env.steps)
	assert.False(t, env.tunnels.IsRunning("box"))
}

func TestUpPortInUse(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.instance(t, "box")
	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", strconv.Itoa(cfg.LocalPort)))
	require.NoError(t, err)
	defer listener.Close()

	_, err = env.manager.Up(context.Background(), cfg)
	var portErr *tunnel.PortInUseError
	require.ErrorAs(t, err, &portErr)
	assert.Empty(t, env.store.DefaultInstance())
}

func TestStatusRows(t *testing.T) {
	env := newTestEnv(t)
	box := env.instance(t, "box")
	other := env.instance(t, "other")
	env.provider.statuses["other"] = gcloud.StatusSuspended
	require.NoError(t, env.store.SetDefault("other"))

	rows := env.manager.Status(context.Background(), []config.InstanceConfig{box, other})
	assert.Equal(t, []status.Row{
		{Name: "box", Status: status.StatusOffline, LocalPort: box.LocalPort},
		{Name: "other", Status: "SUSPENDED", LocalPort: other.LocalPort, Default: true},
	}, rows)

	env.provider.err = retry.NewReasonError(retry.ReasonPermissionDenied, "compute instances list",
		errors.New("PERMISSION_DENIED"))
	rows = env.manager.Status(context.Background(), []config.InstanceConfig{box})
	assert.Equal(t, status.StatusUnknown, rows[0].Status)
}

func TestDownProviderError(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.instance(t, "box")
	env.provider.err = errors.New("boom")

	err := env.manager.Down(context.Background(), cfg)
	require.ErrorContains(t, err, "failed to get status of instance \"box\": boom")
}
