package configure

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/mitchellh/mapstructure"

	"github.com/hermitcrab/hermit/cli/cmdcontext"
	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/util"
)

const (
	ConfigName = "hermit.yaml"
	// configPathEnvName is an environment variable that overrides the
	// default configuration file location.
	configPathEnvName = "HERMIT_CONFIG"
	// hermitDirName is a hermit state directory in the user home.
	hermitDirName = ".hermit"

	instancesDirName = "instances"
	tunnelDirName    = "tunnels"
)

// GetDefaultCliOpts returns the default hermit options rooted at homeDir.
func GetDefaultCliOpts(homeDir string) *config.CliOpts {
	baseDir := filepath.Join(homeDir, hermitDirName)
	return &config.CliOpts{
		InstancesDir: filepath.Join(baseDir, instancesDirName),
		TunnelDir:    filepath.Join(baseDir, tunnelDirName),
		GcloudBin:    "gcloud",
		Boot: &config.BootOpts{
			Timeout:      time.Hour,
			PollInterval: time.Second,
			FetchTimeout: time.Minute,
			FetchRetries: 10,
		},
		Tunnel: &config.TunnelOpts{
			HealthTimeout: 5 * time.Minute,
			StartAttempts: 10,
			StartDelay:    time.Second,
			StopTimeout:   10 * time.Second,
		},
		Provider: &config.ProviderOpts{
			OperationTimeout: 10 * time.Minute,
			ApiRetries:       10,
			ApiRetryDelay:    10 * time.Second,
		},
	}
}

// adjustPathWithConfigLocation makes a relative path relative to the
// configuration file directory.
func adjustPathWithConfigLocation(filePath, configDir string) (string, error) {
	expanded, err := util.ExpandHome(filePath)
	if err != nil {
		return "", err
	}
	if expanded == "" || filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return filepath.Abs(filepath.Join(configDir, expanded))
}

func decodeConfig(input map[string]any, cfg any) error {
	decoderConfig := mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	}
	decoder, err := mapstructure.NewDecoder(&decoderConfig)
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// GetCliOpts returns hermit options: the defaults overridden by the
// configuration file. A missing file is not an error.
func GetCliOpts(configPath string) (*config.CliOpts, error) {
	homeDir, err := util.GetHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	cfg := config.Config{CliConfig: GetDefaultCliOpts(homeDir)}

	configDir := filepath.Join(homeDir, hermitDirName)
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			rawConfigOpts, err := util.ParseYAML(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to parse hermit configuration: %s", err)
			}
			if err := decodeConfig(rawConfigOpts, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse hermit configuration: %s", err)
			}
			if cfg.CliConfig == nil {
				return nil, fmt.Errorf(
					"failed to parse hermit configuration: missing hermit section")
			}
			configDir = filepath.Dir(configPath)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to get access to configuration file: %s", err)
		} else {
			log.Debugf("Configuration file %q is not found, using defaults.", configPath)
		}
	}

	cliOpts := cfg.CliConfig
	defaults := GetDefaultCliOpts(homeDir)
	if cliOpts.Boot == nil {
		cliOpts.Boot = defaults.Boot
	}
	if cliOpts.Tunnel == nil {
		cliOpts.Tunnel = defaults.Tunnel
	}
	if cliOpts.Provider == nil {
		cliOpts.Provider = defaults.Provider
	}
	if cliOpts.InstancesDir, err = adjustPathWithConfigLocation(cliOpts.InstancesDir,
		configDir); err != nil {
		return nil, err
	}
	if cliOpts.TunnelDir, err = adjustPathWithConfigLocation(cliOpts.TunnelDir,
		configDir); err != nil {
		return nil, err
	}

	return cliOpts, nil
}

// getConfigPath returns the configuration file path: the explicit one, the
// environment override or the default location.
func getConfigPath(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = os.Getenv(configPathEnvName)
	}
	if path == "" {
		homeDir, err := util.GetHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, hermitDirName, ConfigName), nil
	}
	return util.ExpandHome(path)
}

// Cli performs initial CLI configuration: resolves the configuration file
// and loads the options into the command context.
func Cli(cmdCtx *cmdcontext.CmdCtx) error {
	configPath, err := getConfigPath(cmdCtx.Cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to get configuration path: %s", err)
	}
	if configPath, err = filepath.Abs(configPath); err != nil {
		return fmt.Errorf("failed to get configuration path: %s", err)
	}
	cmdCtx.Cli.ConfigPath = configPath

	cliOpts, err := GetCliOpts(configPath)
	if err != nil {
		return err
	}
	cmdCtx.CliOpts = cliOpts
	return nil
}
