package cmd

import (
	"fmt"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/tail"
	"github.com/hermitcrab/hermit/cli/tunnel"
	"github.com/hermitcrab/hermit/cli/util"
)

var (
	logLines  int
	logFollow bool
)

// NewTunnelCmd creates a new tunnel command.
func NewTunnelCmd() *cobra.Command {
	var tunnelCmd = &cobra.Command{
		Use:   "tunnel",
		Short: "Manage the tunnel to an instance",
	}

	startCmd := &cobra.Command{
		Use:               "start [<NAME>]",
		Short:             "(Re)start the tunnel to a running instance",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: instanceNamesCompletion,
		Run:               runFunc(internalTunnelStart),
	}
	stopCmd := &cobra.Command{
		Use:               "stop [<NAME>]",
		Short:             "Stop the tunnel",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: instanceNamesCompletion,
		Run:               runFunc(internalTunnelStop),
	}
	statusCmd := &cobra.Command{
		Use:               "status [<NAME>]",
		Short:             "Check whether the tunnel is running",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: instanceNamesCompletion,
		Run:               runFunc(internalTunnelStatus),
	}
	logCmd := &cobra.Command{
		Use:               "log [<NAME>]",
		Short:             "Print the tunnel log",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: instanceNamesCompletion,
		Run:               runFunc(internalTunnelLog),
	}
	logCmd.Flags().IntVarP(&logLines, "lines", "n", 10,
		"Count of last lines to output")
	logCmd.Flags().BoolVarP(&logFollow, "follow", "f", false,
		"Output appended data as the log grows")

	tunnelCmd.AddCommand(startCmd, stopCmd, statusCmd, logCmd)
	return tunnelCmd
}

// loadTunnel loads the instance config and its tunnel supervisor.
func loadTunnel(args []string) (config.InstanceConfig, *tunnel.Supervisor, error) {
	cfg, err := newInstanceStore().Load(instanceName(args))
	if err != nil {
		return cfg, nil, err
	}
	return cfg, newSupervisor(newGcloudClient(), cfg), nil
}

func internalTunnelStart(cmd *cobra.Command, args []string) error {
	cfg, sup, err := loadTunnel(args)
	if err != nil {
		return err
	}
	ctx, stop := commandContext()
	defer stop()

	var handle *tunnel.Handle
	err = util.RunWithSpinner(fmt.Sprintf("Starting tunnel to %s", cfg.Name), func() error {
		var err error
		handle, err = sup.Start(ctx, cfg.Name, cfg.LocalPort)
		return err
	})
	if err != nil {
		return err
	}
	log.Infof("Tunnel to %s (PID %d) is listening on localhost:%d", cfg.Name, handle.PID,
		handle.LocalPort)
	return nil
}

func internalTunnelStop(cmd *cobra.Command, args []string) error {
	cfg, sup, err := loadTunnel(args)
	if err != nil {
		return err
	}
	if !sup.IsRunning(cfg.Name) {
		log.Infof("Tunnel appears to already be stopped")
	}
	if err := sup.Stop(cfg.Name); err != nil {
		return err
	}
	log.Infof("Tunnel to %s is stopped", cfg.Name)
	return nil
}

func internalTunnelStatus(cmd *cobra.Command, args []string) error {
	cfg, sup, err := loadTunnel(args)
	if err != nil {
		return err
	}
	if !sup.IsRunning(cfg.Name) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cfg.Name, color.RedString("NOT RUNNING"))
		return nil
	}
	pid, err := sup.PID(cfg.Name)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s. PID: %d. Port: %d.\n", cfg.Name,
		color.GreenString("RUNNING"), pid, cfg.LocalPort)
	return nil
}

func internalTunnelLog(cmd *cobra.Command, args []string) error {
	cfg, sup, err := loadTunnel(args)
	if err != nil {
		return err
	}
	ctx, stop := commandContext()
	defer stop()

	format := tail.NewSessionFormatter(color.New(color.FgCyan, color.Bold))
	var lines <-chan string
	if logFollow {
		lines, err = tail.Follow(ctx, format, sup.LogFile(cfg.Name), logLines)
	} else {
		lines, err = tail.TailN(ctx, format, sup.LogFile(cfg.Name), logLines)
	}
	if err != nil {
		return err
	}
	for line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
