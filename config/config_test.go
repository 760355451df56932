package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-multitau/stress"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
dt: 0.005
p: 32
temperature: 0.1
checkpoint:
  enabled: true
  path: /tmp/acf
  every: 10000
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.005, cfg.SamplingInterval)
	assert.Equal(t, 2, cfg.Coarsening, "default kept")
	assert.Equal(t, 32, cfg.Capacity)
	assert.Equal(t, 1.0, cfg.Volume, "default kept")
	assert.Equal(t, 0.1, cfg.Temperature)
	assert.Equal(t, Checkpoint{Enabled: true, Path: "/tmp/acf", Every: 10000}, cfg.Checkpoint)
	require.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "dt: 1\nunknown_key: 3\n"))
	require.Error(t, err, "unknown keys are rejected")

	_, err = Load(writeFile(t, "m: [1, 2]\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero dt", mutate: func(c *Config) { c.SamplingInterval = 0 }, wantErr: true},
		{name: "m of one", mutate: func(c *Config) { c.Coarsening = 1 }, wantErr: true},
		{name: "zero p", mutate: func(c *Config) { c.Capacity = 0 }, wantErr: true},
		{name: "p not a multiple of m", mutate: func(c *Config) { c.Coarsening, c.Capacity = 3, 4 }, wantErr: true},
		{name: "p a multiple of m", mutate: func(c *Config) { c.Coarsening, c.Capacity = 4, 32 }},
		{name: "negative volume", mutate: func(c *Config) { c.Volume = -1 }, wantErr: true},
		{name: "zero temperature", mutate: func(c *Config) { c.Temperature = 0 }, wantErr: true},
		{name: "checkpoint without path", mutate: func(c *Config) { c.Checkpoint.Enabled = true }, wantErr: true},
		{name: "resume without checkpoint", mutate: func(c *Config) { c.Checkpoint.Resume = true }, wantErr: true},
		{name: "checkpoint with path", mutate: func(c *Config) {
			c.Checkpoint = Checkpoint{Enabled: true, Path: "acf", Resume: true}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewEnsemble(t *testing.T) {
	cfg := Default()
	cfg.Capacity = 8
	cfg.SamplingInterval = 0.5

	e, err := cfg.NewEnsemble()
	require.NoError(t, err)
	assert.Equal(t, 8, e.P())
	assert.Equal(t, 0.5, e.SamplingInterval())

	tensor := mat.NewDense(3, 3, []float64{1, 2, 0, 2, 1, 0, 0, 0, 1})
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Update(tensor))
	}
	dir := t.TempDir()
	require.NoError(t, e.SaveDir(dir))

	cfg.Checkpoint = Checkpoint{Enabled: true, Path: dir, Resume: true}
	resumed, err := cfg.NewEnsemble()
	require.NoError(t, err)
	assert.Equal(t, uint64(20), resumed.Steps())

	cfg.Checkpoint.Path = filepath.Join(dir, "missing")
	_, err = cfg.NewEnsemble()
	require.Error(t, err, "resume fails fast without a checkpoint")

	cfg.Checkpoint.Path = dir
	cfg.Capacity = 16
	_, err = cfg.NewEnsemble()
	require.ErrorIs(t, err, stress.ErrParameterMismatch)
}
