package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/lifecycle"
	"github.com/hermitcrab/hermit/cli/util"
)

var forceDelete bool

// NewDeleteCmd creates a new delete command.
func NewDeleteCmd() *cobra.Command {
	var deleteCmd = &cobra.Command{
		Use:   "delete [<NAME>]",
		Short: "Delete the persistent disk and the configuration of the instance",
		Long: "Delete the persistent disk of the instance with all the data on it and " +
			"remove the instance configuration. The instance must be brought down first.",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: instanceNamesCompletion,
		Run:               runFunc(internalDelete),
	}

	deleteCmd.Flags().BoolVarP(&forceDelete, "force", "f", false,
		"Do not ask for confirmation before deleting the disk")

	return deleteCmd
}

// confirmDiskDeletion asks the user to type the name of the disk.
func confirmDiskDeletion(reader io.Reader, writer io.Writer) lifecycle.Confirmer {
	return func(cfg config.InstanceConfig) error {
		typed, err := util.AskValue(reader, writer, fmt.Sprintf(
			"Are you sure you want to delete the data volume associated with %s? "+
				"This will irreversibly delete the data on this disk!\n"+
				"If you are sure, type the name of the disk '%s': ", cfg.Name, cfg.PDName))
		if err != nil {
			return err
		}
		if typed != cfg.PDName {
			return fmt.Errorf("typed value %q did not match the disk name %q", typed,
				cfg.PDName)
		}
		return nil
	}
}

func internalDelete(cmd *cobra.Command, args []string) error {
	store := newInstanceStore()
	cfg, err := store.Load(instanceName(args))
	if err != nil {
		return err
	}

	var confirm lifecycle.Confirmer
	if !forceDelete {
		confirm = confirmDiskDeletion(cmd.InOrStdin(), cmd.OutOrStdout())
	}
	ctx, stop := commandContext()
	defer stop()
	return newManager(store, cfg).Delete(ctx, cfg, confirm)
}
