// Package config loads the correlator settings of a stress autocorrelation run.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/n0madic/go-multitau/stress"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds everything supplied once at initialization.
type Config struct {
	SamplingInterval float64    `yaml:"dt"`
	Coarsening       int        `yaml:"m"`
	Capacity         int        `yaml:"p"`
	Volume           float64    `yaml:"volume"`
	Temperature      float64    `yaml:"temperature"`
	Checkpoint       Checkpoint `yaml:"checkpoint"`
}

// Checkpoint controls persistence of the correlators between runs.
type Checkpoint struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`   // directory of the six records
	Resume  bool   `yaml:"resume"` // restore from Path before the first sample
	Every   uint64 `yaml:"every"`  // also save every N steps, 0 saves only at the end
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		SamplingInterval: 1.0,
		Coarsening:       2,
		Capacity:         16,
		Volume:           1.0,
		Temperature:      1.0,
	}
}

// Load reads a YAML file on top of the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}

	cfg := Default()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "could not parse config file %s", path)
	}
	log.WithField("path", path).Debugf("Config file values: %+v", cfg)
	return cfg, nil
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	switch {
	case !(c.SamplingInterval > 0):
		return errors.Wrapf(ErrInvalidConfig, "dt must be positive, got %v", c.SamplingInterval)
	case c.Coarsening < 2:
		return errors.Wrapf(ErrInvalidConfig, "m must be at least 2, got %d", c.Coarsening)
	case c.Capacity < 1:
		return errors.Wrapf(ErrInvalidConfig, "p must be positive, got %d", c.Capacity)
	case c.Capacity%c.Coarsening != 0:
		return errors.Wrapf(ErrInvalidConfig, "p must be a multiple of m, got m=%d p=%d", c.Coarsening, c.Capacity)
	case !(c.Volume > 0):
		return errors.Wrapf(ErrInvalidConfig, "volume must be positive, got %v", c.Volume)
	case !(c.Temperature > 0):
		return errors.Wrapf(ErrInvalidConfig, "temperature must be positive, got %v", c.Temperature)
	case c.Checkpoint.Enabled && c.Checkpoint.Path == "":
		return errors.Wrap(ErrInvalidConfig, "checkpoint path is required when checkpointing is enabled")
	case c.Checkpoint.Resume && !c.Checkpoint.Enabled:
		return errors.Wrap(ErrInvalidConfig, "resume requires checkpointing to be enabled")
	}
	return nil
}

// EnsembleOptions maps the configuration to ensemble options.
func (c *Config) EnsembleOptions() []stress.Option {
	return []stress.Option{
		stress.WithSamplingInterval(c.SamplingInterval),
		stress.WithCoarsening(c.Coarsening),
		stress.WithCapacity(c.Capacity),
		stress.WithVolume(c.Volume),
		stress.WithTemperature(c.Temperature),
	}
}

// NewEnsemble builds the ensemble described by c, restoring it from the checkpoint
// directory when resuming. A missing or unreadable checkpoint is an error.
func (c *Config) NewEnsemble() (*stress.Ensemble, error) {
	e, err := stress.New(c.EnsembleOptions()...)
	if err != nil {
		return nil, err
	}
	if c.Checkpoint.Resume {
		if err := e.RestoreDir(c.Checkpoint.Path); err != nil {
			return nil, errors.Wrap(err, "could not resume from checkpoint")
		}
	}
	return e, nil
}
