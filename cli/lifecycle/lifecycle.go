// Package lifecycle brings instances up and down and reports their status.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/apex/log"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/gcloud"
	"github.com/hermitcrab/hermit/cli/status"
	"github.com/hermitcrab/hermit/cli/tunnel"
)

// Provider manages instances at the cloud provider.
type Provider interface {
	InstanceStatus(ctx context.Context, ref config.InstanceRef) (gcloud.InstanceStatus, error)
	Create(ctx context.Context, cfg config.InstanceConfig, description string) error
	Resume(ctx context.Context, ref config.InstanceRef) error
	Delete(ctx context.Context, ref config.InstanceRef) error

	DiskExists(ctx context.Context, ref config.InstanceRef, name string) (bool, error)
	CreateDisk(ctx context.Context, ref config.InstanceRef, disk gcloud.DiskSpec) error
	FormatDisk(ctx context.Context, cfg config.InstanceConfig) error
	DeleteDisk(ctx context.Context, ref config.InstanceRef, name string) error
}

// ReadyWaiter blocks until an instance accepts ssh connections.
type ReadyWaiter interface {
	WaitForReady(ctx context.Context, ref config.InstanceRef) error
}

// Tunnels starts and stops the tunnels of instances.
type Tunnels interface {
	Start(ctx context.Context, name string, localPort int) (*tunnel.Handle, error)
	Stop(name string) error
	IsRunning(name string) bool
	PID(name string) (int, error)
}

// Store keeps the instance configurations and tracks the default instance.
type Store interface {
	SetDefault(name string) error
	DefaultInstance() string
	Delete(name string) error
}

// StepRunner runs a long step, e.g. showing a spinner meanwhile.
type StepRunner func(prefix string, action func() error) error

// TerminatedError is returned by Up for an instance which was stopped rather
// than suspended.
type TerminatedError struct {
	Name string
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("found existing stopped instance %q, "+
		"you'll need to manually delete it before proceeding", e.Name)
}

// UnexpectedStatusError is returned by Up for an instance in a transitional or
// unknown provider status.
type UnexpectedStatusError struct {
	Name   string
	Status gcloud.InstanceStatus
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("instance %q status is %s, and hermit doesn't know what to do "+
		"with that status", e.Name, e.Status)
}

// Manager composes the provider, the boot watcher and the tunnels.
type Manager struct {
	provider Provider
	waiter   ReadyWaiter
	tunnels  Tunnels
	store    Store

	// Description is attached to created instances.
	Description string
	// RunStep runs the tunnel start. Nil runs it directly.
	RunStep StepRunner
}

// NewManager creates a lifecycle manager.
func NewManager(provider Provider, waiter ReadyWaiter, tunnels Tunnels,
	store Store) *Manager {
	return &Manager{
		provider: provider,
		waiter:   waiter,
		tunnels:  tunnels,
		store:    store,
	}
}

func (m *Manager) runStep(prefix string, action func() error) error {
	if m.RunStep == nil {
		return action()
	}
	return m.RunStep(prefix, action)
}

// ensureRunning brings the instance into the RUNNING status.
func (m *Manager) ensureRunning(ctx context.Context, cfg config.InstanceConfig) error {
	ref := cfg.Ref()
	st, err := m.provider.InstanceStatus(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to get status of instance %q: %w", cfg.Name, err)
	}

	switch st {
	case gcloud.StatusAbsent:
		log.Infof("Creating new instance named %s...", cfg.Name)
		if err := m.provider.Create(ctx, cfg, m.Description); err != nil {
			return fmt.Errorf("failed to create instance %q: %w", cfg.Name, err)
		}
	case gcloud.StatusRunning:
		log.Infof("Instance %s is already running.", cfg.Name)
	case gcloud.StatusSuspended:
		log.Infof("Resuming suspended instance named %s...", cfg.Name)
		if err := m.provider.Resume(ctx, ref); err != nil {
			return fmt.Errorf("failed to resume instance %q: %w", cfg.Name, err)
		}
	case gcloud.StatusTerminated:
		return &TerminatedError{Name: cfg.Name}
	default:
		return &UnexpectedStatusError{Name: cfg.Name, Status: st}
	}
	return nil
}

// Up brings the instance up, waits until it accepts connections, restarts
// its tunnel and makes it the default instance.
func (m *Manager) Up(ctx context.Context, cfg config.InstanceConfig) (*tunnel.Handle, error) {
	if err := m.ensureRunning(ctx, cfg); err != nil {
		return nil, err
	}

	log.Debugf("Waiting for instance %s to start", cfg.Name)
	if err := m.waiter.WaitForReady(ctx, cfg.Ref()); err != nil {
		return nil, err
	}

	if m.tunnels.IsRunning(cfg.Name) {
		log.Debugf("Stopping tunnel of %s", cfg.Name)
		if err := m.tunnels.Stop(cfg.Name); err != nil {
			return nil, err
		}
	} else {
		log.Debugf("Tunnel of %s is not running", cfg.Name)
	}

	var handle *tunnel.Handle
	err := m.runStep(fmt.Sprintf("Starting tunnel to %s on port %d", cfg.Name, cfg.LocalPort),
		func() error {
			var err error
			handle, err = m.tunnels.Start(ctx, cfg.Name, cfg.LocalPort)
			return err
		})
	if err != nil {
		return nil, err
	}
	log.Infof("Tunnel to %s is listening on localhost:%d", cfg.Name, handle.LocalPort)

	log.Debugf("Setting default instance config to %s", cfg.Name)
	if err := m.store.SetDefault(cfg.Name); err != nil {
		return handle, fmt.Errorf("failed to set default instance: %w", err)
	}
	return handle, nil
}

// Down stops the tunnel of the instance and deletes the instance. The
// persistent disk is kept, so the instance can be brought up again.
func (m *Manager) Down(ctx context.Context, cfg config.InstanceConfig) error {
	if m.tunnels.IsRunning(cfg.Name) {
		if err := m.tunnels.Stop(cfg.Name); err != nil {
			return err
		}
	} else {
		log.Infof("Tunnel appears to already be stopped")
	}

	st, err := m.provider.InstanceStatus(ctx, cfg.Ref())
	if err != nil {
		return fmt.Errorf("failed to get status of instance %q: %w", cfg.Name, err)
	}
	if st == gcloud.StatusAbsent {
		log.Infof("Instance appears to be offline already.")
		return nil
	}

	log.Infof("Deleting instance %s...", cfg.Name)
	if err := m.provider.Delete(ctx, cfg.Ref()); err != nil {
		return fmt.Errorf("failed to delete instance %q: %w", cfg.Name, err)
	}
	return nil
}

// Status collects the status rows of the instances. A provider failure for
// one instance is reported as an unknown status.
func (m *Manager) Status(ctx context.Context, cfgs []config.InstanceConfig) []status.Row {
	defaultName := m.store.DefaultInstance()
	rows := make([]status.Row, 0, len(cfgs))
	for _, cfg := range cfgs {
		row := status.Row{
			Name:      cfg.Name,
			LocalPort: cfg.LocalPort,
			Default:   cfg.Name == defaultName,
		}

		st, err := m.provider.InstanceStatus(ctx, cfg.Ref())
		switch {
		case err != nil:
			log.Warnf("Failed to get status of %s: %s", cfg.Name, err)
			row.Status = status.StatusUnknown
		case st == gcloud.StatusAbsent:
			row.Status = status.StatusOffline
		default:
			row.Status = string(st)
		}

		if m.tunnels.IsRunning(cfg.Name) {
			if pid, err := m.tunnels.PID(cfg.Name); err == nil {
				row.TunnelPID = pid
			}
		}
		rows = append(rows, row)
	}
	return rows
}
