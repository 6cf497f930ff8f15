package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Structs

// Config holds all information parsed from
// supplied config file.
type Config struct {
	Sync       Sync
	Merger     Merger
	Serializer Serializer
}

// Sync is the background synchronization related
// part of the TOML config file. The core never
// decides when to sync; these values steer the
// embedding sync layer.
type Sync struct {
	AutoSync            bool
	SyncIntervalSeconds uint64
	MaxConcurrentOps    int
	MaxRetryAttempts    uint32
	ConflictStrategy    string
	PrometheusAddr      string
}

// Merger configures the per-type fallback
// strategies used when automatic merging runs
// into a resolvable conflict.
type Merger struct {
	Strategies map[string]string
}

// Serializer configures format and compression
// of serialized replica snapshots.
type Serializer struct {
	Format      string
	Compression bool
}

// Functions

// LoadConfig takes in the path to the main config
// file of weave in TOML syntax and places the values
// from the file in the corresponding struct.
func LoadConfig(configFile string) (*Config, error) {

	conf := new(Config)

	// Parse values from TOML file into struct.
	_, err := toml.DecodeFile(configFile, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read in TOML config file at '%s' with: %v", configFile, err)
	}

	// Fall back to defaults for values the file leaves out.
	if conf.Sync.SyncIntervalSeconds == 0 {
		conf.Sync.SyncIntervalSeconds = 30
	}

	if conf.Sync.MaxConcurrentOps == 0 {
		conf.Sync.MaxConcurrentOps = 5
	}

	if conf.Sync.MaxRetryAttempts == 0 {
		conf.Sync.MaxRetryAttempts = 5
	}

	if conf.Sync.ConflictStrategy == "" {
		conf.Sync.ConflictStrategy = "auto-merge"
	}

	if conf.Serializer.Format == "" {
		conf.Serializer.Format = "json"
	}

	// Only the coarse strategies exist; reject anything else early.
	for dataType, strategy := range conf.Merger.Strategies {

		if (strategy != "union") && (strategy != "last-write-wins") {
			return nil, fmt.Errorf("unknown merge strategy '%s' configured for type '%s'", strategy, dataType)
		}
	}

	return conf, nil
}
