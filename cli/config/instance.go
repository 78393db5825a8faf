package config

import "fmt"

// ContainerSSHDPort is the port sshd listens on inside the instance
// container. The tunnel forwards it and the idle monitor measures its traffic.
const ContainerSSHDPort = 3022

// InstanceRef identifies an instance at the provider.
type InstanceRef struct {
	Name    string
	Zone    string
	Project string
}

// String returns a human readable reference.
func (r InstanceRef) String() string {
	return fmt.Sprintf("%s (zone %s, project %s)", r.Name, r.Zone, r.Project)
}

// InstanceConfig is a named instance configuration.
type InstanceConfig struct {
	Name           string `mapstructure:"name" yaml:"name"`
	Zone           string `mapstructure:"zone" yaml:"zone"`
	Project        string `mapstructure:"project" yaml:"project"`
	MachineType    string `mapstructure:"machine_type" yaml:"machine_type"`
	DockerImage    string `mapstructure:"docker_image" yaml:"docker_image"`
	PDName         string `mapstructure:"pd_name" yaml:"pd_name"`
	LocalPort      int    `mapstructure:"local_port" yaml:"local_port"`
	BootDiskSizeGB int    `mapstructure:"boot_disk_size_in_gb" yaml:"boot_disk_size_in_gb"`
	ServiceAccount string `mapstructure:"service_account" yaml:"service_account"`
	// IdleTimeoutMinutes is the traffic inactivity after which the
	// instance suspends itself.
	IdleTimeoutMinutes int `mapstructure:"suspend_on_idle_timeout" yaml:"suspend_on_idle_timeout"`
	// UserDataFile is an optional cloud-init file passed on creation.
	UserDataFile string `mapstructure:"user_data_file" yaml:"user_data_file,omitempty"`
}

// Ref returns the provider reference of the instance.
func (c InstanceConfig) Ref() InstanceRef {
	return InstanceRef{Name: c.Name, Zone: c.Zone, Project: c.Project}
}

// Validate checks the fields required to manage the instance.
func (c InstanceConfig) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("instance name is not set")
	case c.Zone == "":
		return fmt.Errorf("zone of %q is not set", c.Name)
	case c.Project == "":
		return fmt.Errorf("project of %q is not set", c.Name)
	case c.LocalPort <= 0 || c.LocalPort > 65535:
		return fmt.Errorf("local port %d of %q is invalid", c.LocalPort, c.Name)
	}
	return nil
}
