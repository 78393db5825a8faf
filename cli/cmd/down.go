package cmd

import (
	"github.com/spf13/cobra"
)

// NewDownCmd creates a new down command.
func NewDownCmd() *cobra.Command {
	var downCmd = &cobra.Command{
		Use:   "down [<NAME>]",
		Short: "Stop the tunnel and delete the instance",
		Long: "Stop the tunnel and delete the instance. The file system on the " +
			"persistent disk remains and an equivalent instance can be brought up " +
			"with the up command.",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: instanceNamesCompletion,
		Run: runFunc(func(cmd *cobra.Command, args []string) error {
			store := newInstanceStore()
			cfg, err := store.Load(instanceName(args))
			if err != nil {
				return err
			}
			ctx, stop := commandContext()
			defer stop()
			return newManager(store, cfg).Down(ctx, cfg)
		}),
	}

	return downCmd
}
