package configure

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hermitcrab/hermit/cli/config"
	"github.com/hermitcrab/hermit/cli/util"
)

// DefaultName is the alias of the instance used when no name is given.
const DefaultName = "default"

// ErrNoDefault is returned when no name is given and no default is set.
var ErrNoDefault = errors.New("no instance name given and no default instance is set")

// InstanceStore keeps instance configurations as YAML files in a directory.
// The default instance is a symbolic link named after DefaultName.
type InstanceStore struct {
	Dir string
}

// NewInstanceStore creates the store over dir.
func NewInstanceStore(dir string) *InstanceStore {
	return &InstanceStore{Dir: dir}
}

func (s *InstanceStore) path(name string) string {
	return filepath.Join(s.Dir, name+".yaml")
}

// Load loads the named instance configuration. An empty name loads the default.
func (s *InstanceStore) Load(name string) (config.InstanceConfig, error) {
	var cfg config.InstanceConfig
	if name == "" {
		name = DefaultName
	}
	path := s.path(name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if name == DefaultName {
				return cfg, ErrNoDefault
			}
			return cfg, fmt.Errorf("instance %q is not configured, use `hermit create`", name)
		}
		return cfg, err
	}

	raw, err := util.ParseYAML(path)
	if err != nil {
		return cfg, err
	}
	if err := decodeConfig(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode instance configuration %q: %w", path, err)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return cfg, nil
}

// Save stores the instance configuration under its name.
func (s *InstanceStore) Save(cfg config.InstanceConfig) error {
	if cfg.Name == DefaultName {
		return fmt.Errorf("%q is a reserved instance name", DefaultName)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := util.CreateDirectory(s.Dir, 0755); err != nil {
		return err
	}
	return util.WriteYaml(s.path(cfg.Name), cfg)
}

// SetDefault makes the named instance the default one.
func (s *InstanceStore) SetDefault(name string) error {
	if !util.IsRegularFile(s.path(name)) {
		return fmt.Errorf("instance %q is not configured", name)
	}
	return util.CreateSymlink(name+".yaml", s.path(DefaultName), true)
}

// DefaultInstance returns the name of the default instance or an empty string.
func (s *InstanceStore) DefaultInstance() string {
	target, err := os.Readlink(s.path(DefaultName))
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(filepath.Base(target), ".yaml")
}

// List returns the names of configured instances in lexical order.
func (s *InstanceStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := []string{}
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".yaml")
		if !ok || name == DefaultName || !entry.Type().IsRegular() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named instance configuration and the default alias
// when it points to it.
func (s *InstanceStore) Delete(name string) error {
	if s.DefaultInstance() == name {
		if err := os.Remove(s.path(DefaultName)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
