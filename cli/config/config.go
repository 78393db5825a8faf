package config

import "time"

// Config used to store all information from the hermit.yaml
// configuration file.
type Config struct {
	CliConfig *CliOpts `mapstructure:"hermit" yaml:"hermit"`
}

// CliOpts stores information about hermit CLI configuration.
// Filled in when parsing the hermit.yaml configuration file.
//
// hermit.yaml file format:
// hermit:
//   instances_dir: path
//   tunnel_dir: path
//   gcloud: path/to/gcloud
//   boot:
//     timeout: 1h
//     poll_interval: 1s
//     fetch_timeout: 1m
//     fetch_retries: 10
//   tunnel:
//     health_timeout: 5m
//     start_attempts: 10
//     start_delay: 1s
//     stop_timeout: 10s
//   provider:
//     operation_timeout: 10m
//     api_retries: 10
//     api_retry_delay: 10s
type CliOpts struct {
	// InstancesDir is a directory that stores instance configurations.
	InstancesDir string `mapstructure:"instances_dir" yaml:"instances_dir"`
	// TunnelDir is a directory that stores tunnel pid and log files.
	TunnelDir string `mapstructure:"tunnel_dir" yaml:"tunnel_dir"`
	// GcloudBin is the gcloud executable.
	GcloudBin string `mapstructure:"gcloud" yaml:"gcloud"`
	// Boot contains boot wait options.
	Boot *BootOpts `mapstructure:"boot" yaml:"boot"`
	// Tunnel contains tunnel supervision options.
	Tunnel *TunnelOpts `mapstructure:"tunnel" yaml:"tunnel"`
	// Provider contains cloud provider options.
	Provider *ProviderOpts `mapstructure:"provider" yaml:"provider"`
}

// BootOpts is used to store boot wait options.
type BootOpts struct {
	// Timeout bounds the wait for the instance to become reachable.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// PollInterval is a pause between two boot log fetches.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// FetchTimeout bounds a single boot log fetch.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	// FetchRetries is the number of attempts of a fetch that times out.
	FetchRetries uint `mapstructure:"fetch_retries" yaml:"fetch_retries"`
}

// TunnelOpts is used to store tunnel supervision options.
type TunnelOpts struct {
	HealthTimeout time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`
	StartAttempts uint          `mapstructure:"start_attempts" yaml:"start_attempts"`
	StartDelay    time.Duration `mapstructure:"start_delay" yaml:"start_delay"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// ProviderOpts is used to store cloud provider call options.
type ProviderOpts struct {
	// OperationTimeout bounds long provider operations like create or resume.
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	// ApiRetries is the number of attempts of a call failing because an
	// API is not enabled yet.
	ApiRetries uint `mapstructure:"api_retries" yaml:"api_retries"`
	// ApiRetryDelay is the pause between such attempts.
	ApiRetryDelay time.Duration `mapstructure:"api_retry_delay" yaml:"api_retry_delay"`
}
