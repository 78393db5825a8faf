package cmd

import (
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"github.com/hermitcrab/hermit/cli/cmdcontext"
	"github.com/hermitcrab/hermit/cli/configure"
)

var (
	cmdCtx  cmdcontext.CmdCtx
	rootCmd *cobra.Command
)

// NewCmdRoot creates a new root command.
func NewCmdRoot() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hermit",
		Short: "Remote development instances",
		Long: "Utility for bringing up, tearing down and reaching remote development " +
			"instances which suspend themselves when idle",
		Example: `$ hermit create dev --zone us-central1-a --project my-project \
      --image us.gcr.io/my-project/dev-env:latest --pd-name dev-home --port 3022
  $ hermit up dev
  $ hermit status`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmdCtx.Cli.Verbose {
				log.SetLevel(log.DebugLevel)
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return configure.Cli(&cmdCtx)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cmdCtx.Cli.ConfigPath, "cfg", "c",
		"", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&cmdCtx.Cli.Verbose, "verbose", "v",
		false, "Print more logging information")

	rootCmd.AddCommand(
		NewVersionCmd(),
		NewCompletionCmd(),
		NewCreateCmd(),
		NewUpCmd(),
		NewDownCmd(),
		NewDeleteCmd(),
		NewStatusCmd(),
		NewTunnelCmd(),
		NewIdleMonitorCmd(),
	)
	rootCmd.InitDefaultHelpCmd()

	log.SetHandler(cli.Default)

	return rootCmd
}

// Execute root command.
func Execute() {
	rootCmd = NewCmdRoot()
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}
