package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/lifecycle"
	"github.com/hermitcrab/hermit/cli/status"
)

var statusOpts status.StatusOpts

// NewStatusCmd creates status command.
func NewStatusCmd() *cobra.Command {
	var statusCmd = &cobra.Command{
		Use:               "status [<NAME>]",
		Short:             "Status of all instances, or of the instance if specified",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: instanceNamesCompletion,
		Run:               runFunc(internalStatus),
	}

	statusCmd.Flags().BoolVarP(&statusOpts.Pretty, "pretty", "p", false,
		"print table in pretty format")

	return statusCmd
}

func internalStatus(cmd *cobra.Command, args []string) error {
	store := newInstanceStore()
	names := args
	if len(names) == 0 {
		var err error
		if names, err = store.List(); err != nil {
			return err
		}
	}
	cfgs := make([]config.InstanceConfig, 0, len(names))
	for _, name := range names {
		cfg, err := store.Load(name)
		if err != nil {
			return err
		}
		cfgs = append(cfgs, cfg)
	}

	// Status never starts a tunnel, the supervisor only reads pid files.
	gc := newGcloudClient()
	manager := lifecycle.NewManager(gc, nil, newSupervisor(gc, config.InstanceConfig{}), store)
	status.Render(cmd.OutOrStdout(), manager.Status(context.Background(), cfgs), statusOpts)
	return nil
}
