package cmd

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/configure"
	"github.com/hermitcrab/hermit/cli/lifecycle"
	"github.com/hermitcrab/hermit/cli/util"
	"github.com/hermitcrab/hermit/cli/version"
)

// NewUpCmd creates a new up command.
func NewUpCmd() *cobra.Command {
	var upCmd = &cobra.Command{
		Use:   "up [<NAME>]",
		Short: "Start the instance and its tunnel",
		Long: "Create or resume the instance, wait until it accepts ssh connections " +
			"and (re)start the tunnel to it. The default instance is used when no " +
			"name is given. With --verbose the boot log is shown as it grows.",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: instanceNamesCompletion,
		Run:               runFunc(internalUp),
	}

	return upCmd
}

// instanceDescription describes who created an instance.
func instanceDescription() string {
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return fmt.Sprintf("hermit v%s VM started by user %s", version.GetVersion(true, false),
		username)
}

// newManager creates the lifecycle manager of the instance cfg.
func newManager(store *configure.InstanceStore, cfg config.InstanceConfig) *lifecycle.Manager {
	gc := newGcloudClient()
	return lifecycle.NewManager(gc, newWatcher(gc), newSupervisor(gc, cfg), store)
}

func internalUp(cmd *cobra.Command, args []string) error {
	store := newInstanceStore()
	cfg, err := store.Load(instanceName(args))
	if err != nil {
		return err
	}
	manager := newManager(store, cfg)
	manager.Description = instanceDescription()
	manager.RunStep = util.RunWithSpinner

	ctx, stop := commandContext()
	defer stop()
	_, err = manager.Up(ctx, cfg)
	return err
}
