// Package gcloud is a thin client of the gcloud CLI covering the calls
// needed to manage an instance and its tunnel.
package gcloud

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/hermitcrab/hermit/cli/bootlog"
	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/retry"
)

// InstanceStatus is the provider status of an instance.
type InstanceStatus string

const (
	// StatusAbsent means that no instance with the name exists.
	StatusAbsent     InstanceStatus = ""
	StatusRunning    InstanceStatus = "RUNNING"
	StatusSuspended  InstanceStatus = "SUSPENDED"
	StatusTerminated InstanceStatus = "TERMINATED"
)

// Instances boot the container optimized OS.
const (
	bootImageFamily  = "cos-stable"
	bootImageProject = "cos-cloud"
	instanceScopes   = "storage-ro,logging-write,monitoring-write,pubsub," +
		"service-management,service-control,trace,compute-rw"
)

// ExitError is a provider command which exited with a non-zero code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return fmt.Sprintf("exit code %d: %s", e.Code, e.Stderr)
}

// Client invokes gcloud.
type Client struct {
	bin      string
	executor Executor
	opts     config.ProviderOpts

	statusPollInterval time.Duration
}

// NewClient creates a client running the gcloud binary.
func NewClient(bin string, opts config.ProviderOpts) *Client {
	return NewClientWithExecutor(bin, opts, ExecExecutor{})
}

// NewClientWithExecutor creates a client running commands through executor.
func NewClientWithExecutor(bin string, opts config.ProviderOpts, executor Executor) *Client {
	if bin == "" {
		bin = "gcloud"
	}
	return &Client{bin: bin, executor: executor, opts: opts,
		statusPollInterval: defaultStatusPollInterval}
}

func locationArgs(ref config.InstanceRef) []string {
	return []string{"--zone=" + ref.Zone, "--project=" + ref.Project}
}

// run runs a gcloud command bounded by timeout and tags its failure.
func (c *Client) run(ctx context.Context, timeout time.Duration, op string,
	args ...string) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	log.Debugf("Running %s %s", c.bin, strings.Join(args, " "))
	res, err := c.executor.Run(ctx, c.bin, args...)
	if err != nil || res.ExitCode != 0 {
		return res, failure(op, res, err)
	}
	return res, nil
}

// call runs an operation retrying it while the API it needs is still
// being enabled.
func (c *Client) call(ctx context.Context, op string, args ...string) (Result, error) {
	var res Result
	err := retry.Do(ctx, retry.Policy{
		Attempts: c.opts.ApiRetries,
		Delay:    c.opts.ApiRetryDelay,
		RetryIf:  retry.OnReasons(retry.ReasonApiNotEnabled),
		Name:     op,
	}, func() error {
		var err error
		res, err = c.run(ctx, c.opts.OperationTimeout, op, args...)
		return err
	})
	return res, err
}

// RunRemoteCommand runs command on the instance over an IAP tunnelled ssh.
// A command that ran is reported through the result even when it failed;
// an error is returned only when the call timed out or could not be run.
func (c *Client) RunRemoteCommand(ctx context.Context, ref config.InstanceRef, command string,
	timeout time.Duration) (bootlog.RemoteResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	args := []string{"compute", "ssh", ref.Name, "--project", ref.Project, "--zone", ref.Zone,
		"--tunnel-through-iap", "--command", command}
	res, err := c.executor.Run(ctx, c.bin, args...)
	if err != nil {
		return bootlog.RemoteResult{}, failure("compute ssh", res, err)
	}
	return bootlog.RemoteResult{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, nil
}

// InstanceStatus returns the provider status of the instance, StatusAbsent
// if it does not exist.
func (c *Client) InstanceStatus(ctx context.Context, ref config.InstanceRef) (InstanceStatus,
	error) {
	args := append([]string{"compute", "instances", "list", "--filter=name=" + ref.Name,
		"--format=value(status)"}, locationArgs(ref)...)
	res, err := c.call(ctx, "compute instances list", args...)
	if err != nil {
		return StatusAbsent, err
	}
	status := strings.TrimSpace(res.Stdout)
	if strings.Contains(status, "\n") {
		return StatusAbsent, fmt.Errorf("expected one line of status of %q but got %q",
			ref.Name, status)
	}
	return InstanceStatus(status), nil
}

// Create creates the instance described by cfg attaching its persistent disk.
func (c *Client) Create(ctx context.Context, cfg config.InstanceConfig,
	description string) error {
	args := []string{"compute", "instances", "create", cfg.Name,
		"--description=" + description,
		"--image-family=" + bootImageFamily,
		"--image-project=" + bootImageProject,
		"--boot-disk-size=" + strconv.Itoa(cfg.BootDiskSizeGB) + "GB",
		"--machine-type=" + cfg.MachineType,
		fmt.Sprintf("--disk=name=%s,device-name=%s,auto-delete=no", cfg.PDName, cfg.PDName),
		"--scopes=" + instanceScopes,
	}
	if cfg.ServiceAccount != "" {
		args = append(args, "--service-account="+cfg.ServiceAccount)
	}
	if cfg.UserDataFile != "" {
		args = append(args, "--metadata-from-file=user-data="+cfg.UserDataFile)
	}
	args = append(args, locationArgs(cfg.Ref())...)
	_, err := c.call(ctx, "compute instances create", args...)
	return err
}

// Resume resumes the suspended instance.
func (c *Client) Resume(ctx context.Context, ref config.InstanceRef) error {
	args := append([]string{"compute", "instances", "resume", ref.Name}, locationArgs(ref)...)
	_, err := c.call(ctx, "compute instances resume", args...)
	return err
}

// Delete deletes the instance. The persistent disk is kept.
func (c *Client) Delete(ctx context.Context, ref config.InstanceRef) error {
	args := append([]string{"compute", "instances", "delete", ref.Name, "--quiet"},
		locationArgs(ref)...)
	_, err := c.call(ctx, "compute instances delete", args...)
	return err
}

// Suspend suspends the instance and returns the exit code of the call. An
// error is returned only when the call could not be run.
func (c *Client) Suspend(ctx context.Context, ref config.InstanceRef) (int, error) {
	args := append([]string{"compute", "instances", "suspend", ref.Name}, locationArgs(ref)...)
	res, err := c.executor.Run(ctx, c.bin, args...)
	if err != nil {
		return -1, failure("compute instances suspend", res, err)
	}
	if res.ExitCode != 0 {
		log.Warnf("Suspend of %q failed: %s", ref.Name, strings.TrimSpace(res.Stderr))
	}
	return res.ExitCode, nil
}

// TunnelCommand builds the command forwarding localPort to the container
// sshd of the instance.
func (c *Client) TunnelCommand(ref config.InstanceRef, localPort int) *exec.Cmd {
	return exec.Command(c.bin, "compute", "start-iap-tunnel", ref.Name,
		strconv.Itoa(config.ContainerSSHDPort),
		fmt.Sprintf("--local-host-port=localhost:%d", localPort),
		"--zone="+ref.Zone, "--project="+ref.Project)
}
