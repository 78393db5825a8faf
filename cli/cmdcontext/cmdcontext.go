package cmdcontext

import "github.com/hermitcrab/hermit/cli/config"

// CmdCtx is the main structure of the program context.
// Contains within itself other structures of CLI modules.
type CmdCtx struct {
	// Cli - CLI context. Contains flags passed when starting hermit.
	Cli CliCtx
	// CliOpts is the loaded hermit configuration.
	CliOpts *config.CliOpts
	// CommandName contains name of the command.
	CommandName string
}

// CliCtx - CLI context. Contains flags passed when starting hermit.
type CliCtx struct {
	// Path to hermit (hermit.yaml) config.
	ConfigPath string
	// Verbose logging flag. Enables debug log output.
	Verbose bool
}
