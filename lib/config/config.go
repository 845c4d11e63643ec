/*package config holds the mesh-engine parameters the outer input reader
hands over. Full simulation input handling (materials, boundary conditions,
schemes) lives outside the mesh core; this package only covers what the
forest, the analyzer, and the partitioner consume.*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the mesh-engine parameter block.
type Config struct {
	// CellSize is the edge length of a level-zero cell.
	CellSize float64 `yaml:"cellSize"`
	// BlockCounts is the number of level-zero blocks per axis.
	BlockCounts [3]int `yaml:"blockCounts"`
	// MaximumLevel is the deepest refinement level allowed.
	MaximumLevel int `yaml:"maximumLevel"`

	// ReferenceLevel and EpsilonReference anchor the level-scaled
	// refinement threshold.
	ReferenceLevel   int     `yaml:"referenceLevel"`
	EpsilonReference float64 `yaml:"epsilonReference"`
	// ThresholdExponent is the per-level scaling exponent; see
	// multiresolution.Analyzer. Zero means the default of 1.
	ThresholdExponent float64 `yaml:"thresholdExponent"`
	// CoarsenFactor is the fraction of the threshold a sibling octet must
	// fall below to coarsen. Zero means the default of 1/8.
	CoarsenFactor float64 `yaml:"coarsenFactor"`

	// Ranks is the number of worker processes.
	Ranks int `yaml:"ranks"`
	// Threads bounds the opt-in thread parallelism over independent blocks
	// within one rank. Zero or negative means one block at a time.
	Threads int `yaml:"threads"`
	// Cycles is the number of refinement cycles the standalone driver runs.
	Cycles int `yaml:"cycles"`
}

// Default returns a configuration that is valid as-is: a single-block
// domain, one rank, no refinement headroom beyond level 2.
func Default() Config {
	return Config{
		CellSize:          1.0,
		BlockCounts:       [3]int{1, 1, 1},
		MaximumLevel:      2,
		ReferenceLevel:    2,
		EpsilonReference:  1e-2,
		ThresholdExponent: 1,
		CoarsenFactor:     0.125,
		Ranks:             1,
		Threads:           1,
		Cycles:            1,
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading configuration: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects invalid level-zero parameters. These are user errors and
// surface as ordinary errors at initialization, before any worker starts.
func (c *Config) Validate() error {
	switch {
	case c.CellSize <= 0:
		return fmt.Errorf("level-zero cell size must be positive, got %g", c.CellSize)
	case c.BlockCounts[0] <= 0 || c.BlockCounts[1] <= 0 || c.BlockCounts[2] <= 0:
		return fmt.Errorf("level-zero block counts must be positive, got %v",
			c.BlockCounts)
	case c.MaximumLevel < 0:
		return fmt.Errorf("maximum level must be non-negative, got %d",
			c.MaximumLevel)
	case c.ReferenceLevel < 0:
		return fmt.Errorf("reference level must be non-negative, got %d",
			c.ReferenceLevel)
	case c.EpsilonReference <= 0:
		return fmt.Errorf("reference threshold must be positive, got %g",
			c.EpsilonReference)
	case c.CoarsenFactor < 0 || c.CoarsenFactor >= 1:
		return fmt.Errorf("coarsen factor must be in [0, 1), got %g",
			c.CoarsenFactor)
	case c.Ranks < 1:
		return fmt.Errorf("rank count must be positive, got %d", c.Ranks)
	case c.Cycles < 0:
		return fmt.Errorf("cycle count must be non-negative, got %d", c.Cycles)
	}
	return nil
}
