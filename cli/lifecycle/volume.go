package lifecycle

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/gcloud"
)

// Confirmer asks the user to approve the deletion of the persistent disk of
// cfg. A nil Confirmer deletes without asking.
type Confirmer func(cfg config.InstanceConfig) error

// DiskExistsError is returned when the disk to create already exists.
type DiskExistsError struct {
	Name string
}

func (e *DiskExistsError) Error() string {
	return fmt.Sprintf("disk %s already exists", e.Name)
}

// DiskMissingError is returned when an existing disk is to be used but
// there is none.
type DiskMissingError struct {
	Name string
}

func (e *DiskMissingError) Error() string {
	return fmt.Sprintf("disk %s does not exist", e.Name)
}

// InstanceExistsError is returned when an instance blocks a disk operation.
type InstanceExistsError struct {
	Name   string
	Status gcloud.InstanceStatus
}

func (e *InstanceExistsError) Error() string {
	return fmt.Sprintf("instance %s exists with status %s", e.Name, e.Status)
}

// TunnelRunningError is returned when the tunnel of the instance is still up.
type TunnelRunningError struct {
	Name string
}

func (e *TunnelRunningError) Error() string {
	return fmt.Sprintf("tunnel of %s appears to still be running", e.Name)
}

// ensureAbsent fails unless the instance is absent at the provider.
func (m *Manager) ensureAbsent(ctx context.Context, cfg config.InstanceConfig) error {
	st, err := m.provider.InstanceStatus(ctx, cfg.Ref())
	if err != nil {
		return fmt.Errorf("failed to get status of instance %q: %w", cfg.Name, err)
	}
	if st != gcloud.StatusAbsent {
		return &InstanceExistsError{Name: cfg.Name, Status: st}
	}
	return nil
}

// CheckVolume checks that the persistent disk of cfg exists.
func (m *Manager) CheckVolume(ctx context.Context, cfg config.InstanceConfig) error {
	exists, err := m.provider.DiskExists(ctx, cfg.Ref(), cfg.PDName)
	if err != nil {
		return fmt.Errorf("failed to look up disk %q: %w", cfg.PDName, err)
	}
	if !exists {
		return &DiskMissingError{Name: cfg.PDName}
	}
	return nil
}

// CreateVolume creates the persistent disk of cfg and a filesystem on it.
// The disk must not exist yet, and no instance may be named like cfg since
// a temporary instance of that name formats the disk.
func (m *Manager) CreateVolume(ctx context.Context, cfg config.InstanceConfig,
	disk gcloud.DiskSpec) error {
	disk.Name = cfg.PDName
	exists, err := m.provider.DiskExists(ctx, cfg.Ref(), disk.Name)
	if err != nil {
		return fmt.Errorf("failed to look up disk %q: %w", disk.Name, err)
	}
	if exists {
		return &DiskExistsError{Name: disk.Name}
	}
	if err := m.ensureAbsent(ctx, cfg); err != nil {
		return err
	}

	log.Infof("Creating persistent disk named %s", disk.Name)
	if err := m.provider.CreateDisk(ctx, cfg.Ref(), disk); err != nil {
		return fmt.Errorf("failed to create disk %q: %w", disk.Name, err)
	}

	err = m.runStep(fmt.Sprintf("Creating filesystem on %s (using a temp instance named %s)",
		disk.Name, cfg.Name), func() error {
		return m.provider.FormatDisk(ctx, cfg)
	})
	if err != nil {
		return fmt.Errorf("failed to format disk %q: %w", disk.Name, err)
	}
	log.Infof("Successfully created %dGB filesystem on persistent disk %s", disk.SizeGB,
		disk.Name)
	return nil
}

// Delete deletes the persistent disk of the instance and its configuration.
// The tunnel must be stopped and the instance brought down before.
func (m *Manager) Delete(ctx context.Context, cfg config.InstanceConfig, confirm Confirmer) error {
	if m.tunnels.IsRunning(cfg.Name) {
		return &TunnelRunningError{Name: cfg.Name}
	}
	if err := m.ensureAbsent(ctx, cfg); err != nil {
		return err
	}

	if confirm != nil {
		if err := confirm(cfg); err != nil {
			return err
		}
	}

	log.Infof("Deleting persistent disk %s", cfg.PDName)
	if err := m.provider.DeleteDisk(ctx, cfg.Ref(), cfg.PDName); err != nil {
		return fmt.Errorf("failed to delete disk %q: %w", cfg.PDName, err)
	}

	log.Infof("Deleting config")
	if err := m.store.Delete(cfg.Name); err != nil {
		return fmt.Errorf("failed to delete configuration of %q: %w", cfg.Name, err)
	}
	return nil
}
