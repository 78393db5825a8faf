package gcloud

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/retry"
)

const (
	// formatUserData formats the attached persistent disk and stops the
	// instance once done.
	formatUserData = `#cloud-config

bootcmd:
- mkfs /dev/sdb
- shutdown -h now
`
	defaultStatusPollInterval = 5 * time.Second
)

// DiskSpec describes a persistent disk to create.
type DiskSpec struct {
	Name   string
	SizeGB int
	Type   string
}

// StatusWaitError is returned while an instance has not reached the
// awaited status.
type StatusWaitError struct {
	Name string
	Want InstanceStatus
	Got  InstanceStatus
}

func (e *StatusWaitError) Error() string {
	got := string(e.Got)
	if e.Got == StatusAbsent {
		got = "absent"
	}
	return fmt.Sprintf("instance %q is %s, waiting for %s", e.Name, got, e.Want)
}

// DiskExists reports whether the persistent disk exists in the zone of ref.
func (c *Client) DiskExists(ctx context.Context, ref config.InstanceRef, name string) (bool,
	error) {
	res, err := c.call(ctx, "compute disks list", "compute", "disks", "list",
		"--filter=name="+name, "--format=value(name)", "--zones="+ref.Zone,
		"--project="+ref.Project)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// CreateDisk creates an unformatted persistent disk in the zone of ref.
func (c *Client) CreateDisk(ctx context.Context, ref config.InstanceRef, disk DiskSpec) error {
	args := append([]string{"compute", "disks", "create", disk.Name,
		"--size=" + strconv.Itoa(disk.SizeGB) + "GB", "--type=" + disk.Type},
		locationArgs(ref)...)
	_, err := c.call(ctx, "compute disks create", args...)
	return err
}

// DeleteDisk deletes the persistent disk with all its data.
func (c *Client) DeleteDisk(ctx context.Context, ref config.InstanceRef, name string) error {
	args := append([]string{"compute", "disks", "delete", name, "--quiet"},
		locationArgs(ref)...)
	_, err := c.call(ctx, "compute disks delete", args...)
	return err
}

// FormatDisk creates a filesystem on the persistent disk of cfg. A temporary
// instance named after cfg formats the disk and powers itself off, then it
// is deleted.
func (c *Client) FormatDisk(ctx context.Context, cfg config.InstanceConfig) error {
	userData, err := os.CreateTemp("", "hermit-format-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create cloud-init file: %w", err)
	}
	defer os.Remove(userData.Name())
	if _, err := userData.WriteString(formatUserData); err != nil {
		userData.Close()
		return fmt.Errorf("failed to write cloud-init file: %w", err)
	}
	if err := userData.Close(); err != nil {
		return fmt.Errorf("failed to write cloud-init file: %w", err)
	}

	ref := cfg.Ref()
	args := []string{"compute", "instances", "create", cfg.Name,
		"--image-family=" + bootImageFamily,
		"--image-project=" + bootImageProject,
		"--machine-type=" + cfg.MachineType,
		"--metadata-from-file=user-data=" + userData.Name(),
		fmt.Sprintf("--disk=name=%s,device-name=%s,auto-delete=no", cfg.PDName, cfg.PDName),
	}
	if cfg.ServiceAccount != "" {
		args = append(args, "--service-account="+cfg.ServiceAccount)
	}
	args = append(args, locationArgs(ref)...)
	if _, err := c.call(ctx, "compute instances create", args...); err != nil {
		return err
	}

	if err := c.WaitForStatus(ctx, ref, StatusTerminated); err != nil {
		return err
	}
	return c.Delete(ctx, ref)
}

// WaitForStatus polls the instance until it reaches want. The wait is
// bounded by the operation timeout.
func (c *Client) WaitForStatus(ctx context.Context, ref config.InstanceRef,
	want InstanceStatus) error {
	attempts := uint(1)
	if c.statusPollInterval > 0 {
		attempts += uint(c.opts.OperationTimeout / c.statusPollInterval)
	}
	return retry.Do(ctx, retry.Policy{
		Attempts: attempts,
		Delay:    c.statusPollInterval,
		RetryIf:  retry.OnType[*StatusWaitError](),
		Name:     "wait for " + string(want),
	}, func() error {
		st, err := c.InstanceStatus(ctx, ref)
		if err != nil {
			return err
		}
		if st != want {
			log.Debugf("Instance %s is %q, waiting for %s", ref.Name, st, want)
			return &StatusWaitError{Name: ref.Name, Want: want, Got: st}
		}
		return nil
	})
}
