package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/hermitcrab/hermit/cli/bootlog"
	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/configure"
	"github.com/hermitcrab/hermit/cli/gcloud"
	"github.com/hermitcrab/hermit/cli/lifecycle"
	"github.com/hermitcrab/hermit/cli/retry"
	"github.com/hermitcrab/hermit/cli/tunnel"
	"github.com/hermitcrab/hermit/cli/util"
)

// runFunc wraps a command implementation, reporting its error.
func runFunc(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		cmdCtx.CommandName = cmd.Name()
		handleCmdErr(cmd, fn(cmd, args))
	}
}

// hint returns advice for the errors the user can act upon.
func hint(err error) string {
	var (
		fatalErr   *bootlog.FatalBootError
		timeoutErr *bootlog.TimeoutError
		termErr    *tunnel.UnexpectedTerminationError
		reasonErr  *retry.ReasonError
		tunnelErr  *lifecycle.TunnelRunningError
		existsErr  *lifecycle.InstanceExistsError
	)
	switch {
	case errors.As(err, &fatalErr):
		return "the instance cannot boot, check its configuration and persistent disk"
	case errors.As(err, &timeoutErr):
		return "the instance may still be booting, run `hermit up -v` to see its boot log"
	case errors.As(err, &termErr):
		return fmt.Sprintf("see `hermit tunnel log %s` for the whole tunnel log", termErr.Name)
	case errors.As(err, &tunnelErr):
		return fmt.Sprintf("use `hermit down %s` to shut it down first", tunnelErr.Name)
	case errors.As(err, &existsErr):
		return fmt.Sprintf("use `hermit down %s` to remove the instance first", existsErr.Name)
	case errors.As(err, &reasonErr):
		switch reasonErr.Reason {
		case retry.ReasonPermissionDenied:
			return "check that the active gcloud account has access to the project"
		case retry.ReasonApiNotEnabled:
			return "enable the Compute Engine API of the project and retry"
		}
	case errors.Is(err, configure.ErrNoDefault):
		return "pass an instance name or bring an instance up first"
	}
	return ""
}

// handleCmdErr handles an error returned by command implementation.
// If received error is of an ArgError type, usage help is printed.
func handleCmdErr(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	var argError *util.ArgError
	if errors.As(err, &argError) || errors.Is(err, util.ErrCmdAbort) {
		util.HandleCmdErr(cmd, err)
		return
	}
	if h := hint(err); h != "" {
		log.Error(err.Error())
		log.Fatalf("Hint: %s", h)
	}
	log.Fatalf("%s", err.Error())
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// instanceName returns the optional instance name argument.
func instanceName(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func newInstanceStore() *configure.InstanceStore {
	return configure.NewInstanceStore(cmdCtx.CliOpts.InstancesDir)
}

func newGcloudClient() *gcloud.Client {
	return gcloud.NewClient(cmdCtx.CliOpts.GcloudBin, *cmdCtx.CliOpts.Provider)
}

// newSupervisor creates the tunnel supervisor forwarding through the
// instance cfg.
func newSupervisor(gc *gcloud.Client, cfg config.InstanceConfig) *tunnel.Supervisor {
	ref := cfg.Ref()
	return tunnel.NewSupervisor(cmdCtx.CliOpts.TunnelDir, func(_ string, port int) *exec.Cmd {
		return gc.TunnelCommand(ref, port)
	}, *cmdCtx.CliOpts.Tunnel)
}

func newWatcher(gc *gcloud.Client) *bootlog.Watcher {
	boot := cmdCtx.CliOpts.Boot
	watcher := bootlog.NewWatcher(gc, bootlog.WatcherOpts{
		Timeout:      boot.Timeout,
		PollInterval: boot.PollInterval,
		FetchTimeout: boot.FetchTimeout,
		FetchRetries: boot.FetchRetries,
		Verbose:      cmdCtx.Cli.Verbose,
	})
	watcher.Output = func(line string) { fmt.Fprintln(os.Stdout, line) }
	return watcher
}
