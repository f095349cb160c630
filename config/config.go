// Package config loads motion-group deployment files.
package config

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/BaPSF/bapsf-motion/drive"
	"github.com/BaPSF/bapsf-motion/transform"
)

// Config is the on-disk description of one motion group: the drive
// assembly plus the coordinate transform of its deployment.
type Config struct {
	Name      string           `yaml:"name"`
	Drive     drive.Config     `yaml:"drive"`
	Transform transform.Config `yaml:"transform"`
}

// Load reads and validates a YAML deployment file. Unknown keys are
// rejected so typos surface at load time instead of as silent defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(raw)
}

// Parse decodes and validates YAML config bytes.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Drive.Validate(); err != nil {
		return nil, err
	}
	if cfg.Transform.Type == "" {
		cfg.Transform.Type = "identity"
	}
	return &cfg, nil
}

// BuildTransform constructs the configured transform for this config's
// drive dimensionality.
func (cfg *Config) BuildTransform() (transform.Transform, error) {
	return transform.New(cfg.Transform, len(cfg.Drive.Axes))
}
