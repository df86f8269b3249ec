// Package configuration implements loading and validation of the on-disk
// configuration that drives a cache daemon invocation: where the local
// repository root lives, where (if anywhere) an exception overlay document
// should be loaded from, and whether metadata access should be
// exclusively locked.
package configuration

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Configuration is the injected configuration surface for a Cache.
type Configuration struct {
	// LocalRepositoryRoot is the filesystem path under which the rsync and
	// https transport trees, and the metadata.json file describing them,
	// are stored. Required.
	LocalRepositoryRoot string `yaml:"localRepositoryRoot"`
	// OverlayLocation is the path to an exception overlay document. Empty
	// disables overlay loading entirely.
	OverlayLocation string `yaml:"overlayLocation"`
	// LockMetadata, if true, requires an exclusive advisory lock on
	// metadata.json to be held for the duration of Prepare through
	// Teardown, so that two cache instances sharing a repository root
	// cannot interleave their load/dump cycles. Disabled by default: the
	// cache's documented contract assumes a single owning process.
	LockMetadata bool `yaml:"lockMetadata"`
}

// EnsureValid ensures that Configuration's invariants are respected.
func (c *Configuration) EnsureValid() error {
	if c == nil {
		return errors.New("nil configuration")
	}
	if c.LocalRepositoryRoot == "" {
		return errors.New("localRepositoryRoot is required")
	}
	return nil
}

// Load reads and parses a YAML configuration file at path.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read configuration file: %w", err)
	}

	var config Configuration
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("unable to parse configuration file: %w", err)
	}

	if err := config.EnsureValid(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
