package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const (
	shellBash = "bash"
	shellZsh  = "zsh"
	shellFish = "fish"
)

var shellSupported = []string{shellBash, shellZsh, shellFish}

func listShells() string {
	return strings.Join(shellSupported, " | ")
}

// NewCompletionCmd creates a new completion command.
func NewCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use: "completion <SHELL_TYPE>",
		Short: "Generate autocomplete for a specified shell. " +
			fmt.Sprintf("Supported shell type: %s", listShells()),
		ValidArgs: shellSupported,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		Run: runFunc(func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case shellBash:
				return cmd.Root().GenBashCompletionV2(out, true)
			case shellZsh:
				return cmd.Root().GenZshCompletion(out)
			case shellFish:
				return cmd.Root().GenFishCompletion(out, true)
			}
			return fmt.Errorf("specified shell type is not supported. Available: %s",
				listShells())
		}),
		Example: `
# Enable auto-completion in current bash shell.

    $ . <(hermit completion bash)`,
	}

	return cmd
}

// instanceNamesCompletion completes configured instance names.
func instanceNamesCompletion(cmd *cobra.Command, args []string,
	toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 || cmdCtx.CliOpts == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	names, err := newInstanceStore().List()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
