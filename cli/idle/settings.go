package idle

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/hermitcrab/hermit/cli/config"
)

// SettingsEnvPrefix prefixes the environment variables of the idle monitor,
// e.g. HERMIT_IDLE_IDLE_TIMEOUT.
const SettingsEnvPrefix = "HERMIT_IDLE"

// DefaultAccountingChain is the iptables chain counting the sshd traffic.
const DefaultAccountingChain = "CONTAINER_SSH"

// Settings configure the idle monitor daemon. The daemon is started by a
// systemd unit, so the settings come from the environment and may be
// overridden by command line flags.
type Settings struct {
	Name    string `split_words:"true"`
	Zone    string `split_words:"true"`
	Project string `split_words:"true"`

	PollInterval         time.Duration `split_words:"true" default:"1s"`
	IdleTimeout          time.Duration `split_words:"true" default:"30m"`
	AssumeSuspendedAfter time.Duration `split_words:"true" default:"10m"`
	MaxSuspendFailures   int           `split_words:"true" default:"10"`

	Chain      string `split_words:"true" default:"CONTAINER_SSH"`
	Port       int    `split_words:"true" default:"3022"`
	SuspendVia string `split_words:"true" default:"docker"`
	Image      string `split_words:"true" default:"google/cloud-sdk"`

	LogFile    string `split_words:"true"`
	LogMaxSize int    `split_words:"true" default:"100"`
}

// LoadSettings reads the settings from the environment.
func LoadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.Process(SettingsEnvPrefix, &s); err != nil {
		return s, fmt.Errorf("failed to load idle monitor settings: %w", err)
	}
	return s, nil
}

// Ref returns the monitored instance.
func (s Settings) Ref() config.InstanceRef {
	return config.InstanceRef{Name: s.Name, Zone: s.Zone, Project: s.Project}
}

// MonitorOpts returns the state machine options.
func (s Settings) MonitorOpts() Opts {
	return Opts{
		PollInterval:         s.PollInterval,
		ActivityTimeout:      s.IdleTimeout,
		AssumeSuspendedAfter: s.AssumeSuspendedAfter,
		MaxSuspendFailures:   s.MaxSuspendFailures,
	}
}

// Validate checks that the instance is fully identified.
func (s Settings) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("instance name is not set")
	case s.Zone == "":
		return fmt.Errorf("zone of %q is not set", s.Name)
	case s.Project == "":
		return fmt.Errorf("project of %q is not set", s.Name)
	case s.IdleTimeout <= 0:
		return fmt.Errorf("idle timeout must be positive, got %s", s.IdleTimeout)
	}
	return nil
}
