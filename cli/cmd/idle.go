package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/hermitcrab/hermit/cli/docker"
	"github.com/hermitcrab/hermit/cli/idle"
	"github.com/hermitcrab/hermit/cli/ttlog"
	"github.com/hermitcrab/hermit/cli/util"
)

const (
	suspendViaDocker = "docker"
	suspendViaGcloud = "gcloud"
)

var idleSettings idle.Settings

// NewIdleMonitorCmd creates a new idle-monitor command.
func NewIdleMonitorCmd() *cobra.Command {
	var idleCmd = &cobra.Command{
		Use:   "idle-monitor",
		Short: "Suspend the instance it runs on when its sshd gets no traffic",
		Long: "Watch the traffic accounted by iptables for the container sshd port " +
			"and suspend the instance after the idle timeout. The monitor runs on " +
			"the instance until SIGINT or SIGTERM, SIGHUP reopens the log file.\n" +
			"Every flag defaults to the " + idle.SettingsEnvPrefix + "_<FLAG> " +
			"environment variable, e.g. " + idle.SettingsEnvPrefix + "_IDLE_TIMEOUT.",
		Args: cobra.NoArgs,
		Run:  runFunc(internalIdleMonitor),
	}

	defaults, err := idle.LoadSettings()
	if err != nil {
		log.Warnf("%s", err)
	}

	flags := idleCmd.Flags()
	flags.StringVar(&idleSettings.Name, "name", defaults.Name, "Name of the instance")
	flags.StringVar(&idleSettings.Zone, "zone", defaults.Zone, "Zone of the instance")
	flags.StringVar(&idleSettings.Project, "project", defaults.Project,
		"Project of the instance")
	flags.DurationVar(&idleSettings.PollInterval, "poll-interval", defaults.PollInterval,
		"Pause between two traffic samples")
	flags.DurationVar(&idleSettings.IdleTimeout, "idle-timeout", defaults.IdleTimeout,
		"Inactivity after which the instance is suspended")
	flags.DurationVar(&idleSettings.AssumeSuspendedAfter, "assume-suspended-after",
		defaults.AssumeSuspendedAfter,
		"Suspend call duration after which the call is considered successful")
	flags.IntVar(&idleSettings.MaxSuspendFailures, "max-suspend-failures",
		defaults.MaxSuspendFailures,
		"Consecutive failed suspend attempts before the host is powered off")
	flags.StringVar(&idleSettings.Chain, "chain", defaults.Chain,
		"iptables chain accounting the sshd traffic")
	flags.IntVar(&idleSettings.Port, "port", defaults.Port,
		"Destination port of the accounted traffic, 0 for the first rule of the chain")
	flags.StringVar(&idleSettings.SuspendVia, "suspend-via", defaults.SuspendVia,
		fmt.Sprintf("How gcloud is invoked: %q runs it in a container, %q on the host",
			suspendViaDocker, suspendViaGcloud))
	flags.StringVar(&idleSettings.Image, "image", defaults.Image,
		"Cloud SDK image used to suspend the instance")
	flags.StringVar(&idleSettings.LogFile, "log", defaults.LogFile,
		"Log file, stderr if not specified")
	flags.IntVar(&idleSettings.LogMaxSize, "log-max-size", defaults.LogMaxSize,
		"Maximum size in megabytes of the log file before it gets rotated")

	return idleCmd
}

// newSuspender creates the suspender selected by --suspend-via. The returned
// function releases its resources.
func newSuspender(settings idle.Settings) (idle.Suspender, func(), error) {
	switch settings.SuspendVia {
	case suspendViaDocker:
		client, err := docker.NewClient(os.Stderr)
		if err != nil {
			return nil, nil, err
		}
		suspender := idle.NewDockerSuspender(client, settings.Ref())
		suspender.Image = settings.Image
		return suspender, func() { client.Close() }, nil
	case suspendViaGcloud:
		return &idle.DirectSuspender{Client: newGcloudClient(), Ref: settings.Ref()},
			func() {}, nil
	}
	return nil, nil, util.NewArgError(fmt.Sprintf("unknown suspend method %q, use %q or %q",
		settings.SuspendVia, suspendViaDocker, suspendViaGcloud))
}

// handleSignals cancels the monitor on SIGINT or SIGTERM and rotates the log
// on SIGHUP.
func handleSignals(ctx context.Context, cancel context.CancelFunc, logger *ttlog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					if err := logger.Rotate(); err != nil {
						log.Warnf("Failed to rotate log: %s", err)
					}
					continue
				}
				log.Infof("Got %s, stopping", sig)
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// newDaemonLogger creates the monitor log, stderr when no log file is set.
func newDaemonLogger(settings idle.Settings) *ttlog.Logger {
	return ttlog.NewLogger(ttlog.LoggerOpts{
		Filename:   settings.LogFile,
		MaxSize:    settings.LogMaxSize,
		MaxBackups: 3,
	})
}

func internalIdleMonitor(cmd *cobra.Command, args []string) error {
	settings := idleSettings
	if err := settings.Validate(); err != nil {
		return util.NewArgError(err.Error())
	}

	logger := newDaemonLogger(settings)
	defer logger.Close()
	log.SetHandler(logger)
	if opts := logger.GetOpts(); opts.Filename != "" {
		log.Infof("Logging to %s, rotated at %d MB", opts.Filename, opts.MaxSize)
	}

	suspender, release, err := newSuspender(settings)
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handleSignals(ctx, cancel, logger)

	counter := idle.NewIptablesCounter(settings.Chain, settings.Port)
	monitor := idle.NewMonitor(counter, suspender, idle.HostPowerOff, settings.MonitorOpts())
	log.Infof("Monitoring traffic of %s to port %d, idle timeout %s", settings.Name,
		settings.Port, settings.IdleTimeout)
	monitor.Run(ctx)
	return nil
}
