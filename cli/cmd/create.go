package cmd

import (
	"fmt"
	"regexp"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/configure"
	"github.com/hermitcrab/hermit/cli/gcloud"
	"github.com/hermitcrab/hermit/cli/util"
)

const (
	defaultMachineType    = "n2-standard-2"
	defaultBootDiskSizeGB = 50
	defaultIdleTimeout    = 30
	defaultDiskSizeGB     = 200
	defaultDiskType       = "pd-standard"
)

var (
	gcpNameRe = regexp.MustCompile(`^[a-z0-9-]+$`)

	createCfg    config.InstanceConfig
	createDisk   gcloud.DiskSpec
	existingDisk bool
)

// NewCreateCmd creates a new create command.
func NewCreateCmd() *cobra.Command {
	var createCmd = &cobra.Command{
		Use:   "create <NAME>",
		Short: "Create a new instance configuration",
		Long: "Create the persistent disk of a new instance with a filesystem on it, " +
			"store the instance configuration and make it the default one.\n" +
			"A temporary instance with the name of the new one formats the disk. " +
			"With --existing-disk a disk holding a filesystem is reused instead.",
		Args: cobra.ExactArgs(1),
		Run:  runFunc(internalCreate),
	}

	flags := createCmd.Flags()
	flags.StringVar(&createCfg.Zone, "zone", "", "Zone of the instance")
	flags.StringVar(&createCfg.Project, "project", "", "Project of the instance")
	flags.StringVar(&createCfg.DockerImage, "image", "",
		"Docker image of the container providing sshd")
	flags.StringVar(&createCfg.PDName, "pd-name", "",
		`Persistent disk used for the home volume ("NAME-pd" if not specified)`)
	flags.StringVar(&createCfg.MachineType, "machine-type", defaultMachineType,
		"Machine type of the instance")
	flags.IntVar(&createCfg.LocalPort, "port", 0,
		"Local port of the tunnel (the port after the ones of other instances if not specified)")
	flags.IntVar(&createCfg.BootDiskSizeGB, "boot-disk-size", defaultBootDiskSizeGB,
		"Size of the boot volume in GB, it holds docker images and containers")
	flags.StringVar(&createCfg.ServiceAccount, "service-account", "",
		"Service account of the instance")
	flags.IntVar(&createCfg.IdleTimeoutMinutes, "idle-timeout", defaultIdleTimeout,
		"Minutes without traffic after which the instance suspends itself")
	flags.StringVar(&createCfg.UserDataFile, "user-data", "",
		"Cloud-init user data file passed to the instance")
	flags.IntVar(&createDisk.SizeGB, "disk-size", defaultDiskSizeGB,
		"Size of the home volume in GB")
	flags.StringVar(&createDisk.Type, "disk-type", defaultDiskType,
		"Type of the persistent disk used for the home volume")
	flags.BoolVar(&existingDisk, "existing-disk", false,
		"Use the existing persistent disk instead of creating one")
	createCmd.MarkFlagRequired("zone")
	createCmd.MarkFlagRequired("project")
	createCmd.MarkFlagRequired("image")

	return createCmd
}

// nextFreePort returns the port following the ones used by the instances.
func nextFreePort(store *configure.InstanceStore) (int, error) {
	names, err := store.List()
	if err != nil {
		return 0, err
	}
	port := 0
	for _, name := range names {
		cfg, err := store.Load(name)
		if err != nil {
			return 0, err
		}
		port = max(port, cfg.LocalPort)
	}
	if port == 0 {
		return config.ContainerSSHDPort, nil
	}
	return port + 1, nil
}

func internalCreate(cmd *cobra.Command, args []string) error {
	cfg := createCfg
	cfg.Name = args[0]
	if cfg.PDName == "" {
		cfg.PDName = cfg.Name + "-pd"
	}
	if !gcpNameRe.MatchString(cfg.Name) {
		return util.NewArgError(fmt.Sprintf("instance name %q is not a valid name for GCP, "+
			"only lowercase letters, numbers and dashes are allowed", cfg.Name))
	}
	if !gcpNameRe.MatchString(cfg.PDName) {
		return util.NewArgError(fmt.Sprintf("persistent disk name %q is not a valid name "+
			"for GCP, only lowercase letters, numbers and dashes are allowed", cfg.PDName))
	}

	store := newInstanceStore()
	if _, err := store.Load(cfg.Name); err == nil {
		return fmt.Errorf("%s appears to already have a config stored", cfg.Name)
	}
	if cfg.LocalPort == 0 {
		port, err := nextFreePort(store)
		if err != nil {
			return err
		}
		cfg.LocalPort = port
	}

	if err := cfg.Validate(); err != nil {
		return util.NewArgError(err.Error())
	}

	manager := newManager(store, cfg)
	manager.RunStep = util.RunWithSpinner
	ctx, stop := commandContext()
	defer stop()
	if existingDisk {
		if err := manager.CheckVolume(ctx, cfg); err != nil {
			return err
		}
	} else if err := manager.CreateVolume(ctx, cfg, createDisk); err != nil {
		return err
	}

	if err := store.Save(cfg); err != nil {
		return err
	}
	if err := store.SetDefault(cfg.Name); err != nil {
		return err
	}
	log.Infof("Instance %s is configured to use local port %d", cfg.Name, cfg.LocalPort)
	return nil
}
