package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mesh.yaml")
	text := `
cellSize: 0.5
blockCounts: [4, 2, 1]
maximumLevel: 5
referenceLevel: 3
epsilonReference: 0.02
ranks: 3
cycles: 10
`
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.CellSize)
	assert.Equal(t, [3]int{4, 2, 1}, cfg.BlockCounts)
	assert.Equal(t, 5, cfg.MaximumLevel)
	assert.Equal(t, 3, cfg.ReferenceLevel)
	assert.Equal(t, 0.02, cfg.EpsilonReference)
	assert.Equal(t, 3, cfg.Ranks)
	assert.Equal(t, 10, cfg.Cycles)

	// Fields the file omits keep their defaults.
	assert.Equal(t, 1.0, cfg.ThresholdExponent)
	assert.Equal(t, 0.125, cfg.CoarsenFactor)
	assert.Equal(t, 1, cfg.Threads)
}

func TestLoadFailures(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("cellSize: [not a number"), 0644))
	_, err = Load(bad)
	require.Error(t, err)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("cellSize: -1.0"), 0644))
	_, err = Load(invalid)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(c *Config) {}, true},
		{"zero cell size", func(c *Config) { c.CellSize = 0 }, false},
		{"negative block count", func(c *Config) { c.BlockCounts[1] = -2 }, false},
		{"negative maximum level", func(c *Config) { c.MaximumLevel = -1 }, false},
		{"negative reference level", func(c *Config) { c.ReferenceLevel = -1 }, false},
		{"zero epsilon", func(c *Config) { c.EpsilonReference = 0 }, false},
		{"coarsen factor of one", func(c *Config) { c.CoarsenFactor = 1.0 }, false},
		{"zero ranks", func(c *Config) { c.Ranks = 0 }, false},
		{"negative cycles", func(c *Config) { c.Cycles = -1 }, false},
		{"reference above maximum is allowed", func(c *Config) {
			c.ReferenceLevel = 10
		}, true},
	}

	for i := range tests {
		t.Run(tests[i].name, func(t *testing.T) {
			cfg := Default()
			tests[i].mutate(&cfg)
			err := cfg.Validate()
			if tests[i].ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
