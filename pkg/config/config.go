// Package config loads an EngineConfig from file, environment and flags
// using viper, following the cobra+viper split used throughout the
// example corpus for a node daemon's configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jabolina/rabia/pkg/rabia/engine"
	"github.com/jabolina/rabia/pkg/rabia/types"
)

// EngineConfig is everything a rabiad instance needs to boot one node.
type EngineConfig struct {
	NodeId        string            `mapstructure:"node_id"`
	ListenAddress string            `mapstructure:"listen_address"`
	SeedPeers     map[string]string `mapstructure:"seed_peers"`
	AdminAddress  string            `mapstructure:"admin_address"`
	MetricsAddress string           `mapstructure:"metrics_address"`

	CleanupInterval       time.Duration `mapstructure:"cleanup_interval"`
	SyncRetryInterval     time.Duration `mapstructure:"sync_retry_interval"`
	SyncRetryJitter       time.Duration `mapstructure:"sync_retry_jitter"`
	RemoveOlderThanPhases uint64        `mapstructure:"remove_older_than_phases"`

	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// Default returns an EngineConfig seeded with engine.DefaultConfig's
// tunables and no peers, for a single-node or test bootstrap.
func Default() EngineConfig {
	d := engine.DefaultConfig()
	return EngineConfig{
		ListenAddress:         ":7070",
		AdminAddress:          ":8080",
		MetricsAddress:        ":9090",
		SeedPeers:             map[string]string{},
		CleanupInterval:       d.CleanupInterval,
		SyncRetryInterval:     d.SyncRetryInterval,
		SyncRetryJitter:       d.SyncRetryJitter,
		RemoveOlderThanPhases: uint64(d.RemoveOlderThanPhases),
	}
}

// Load reads configuration from (in ascending precedence) a config file at
// path (if non-empty and present), environment variables prefixed RABIA_,
// and whatever flags the caller has already bound into v.
func Load(path string, v *viper.Viper) (EngineConfig, error) {
	if v == nil {
		v = viper.New()
	}
	cfg := Default()
	v.SetDefault("listen_address", cfg.ListenAddress)
	v.SetDefault("admin_address", cfg.AdminAddress)
	v.SetDefault("metrics_address", cfg.MetricsAddress)
	v.SetDefault("cleanup_interval", cfg.CleanupInterval)
	v.SetDefault("sync_retry_interval", cfg.SyncRetryInterval)
	v.SetDefault("sync_retry_jitter", cfg.SyncRetryJitter)
	v.SetDefault("remove_older_than_phases", cfg.RemoveOlderThanPhases)

	v.SetEnvPrefix("RABIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return EngineConfig{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.NodeId == "" {
		return EngineConfig{}, fmt.Errorf("config: node_id is required")
	}
	return cfg, nil
}

// EngineTunables converts the subset of EngineConfig the consensus engine
// itself understands into engine.Config.
func (c EngineConfig) EngineTunables() engine.Config {
	return engine.Config{
		CleanupInterval:       c.CleanupInterval,
		SyncRetryInterval:     c.SyncRetryInterval,
		SyncRetryJitter:       c.SyncRetryJitter,
		RemoveOlderThanPhases: types.Phase(c.RemoveOlderThanPhases),
	}
}

// Peers converts SeedPeers into the NodeId-keyed map the tcp transport expects.
func (c EngineConfig) Peers() map[types.NodeId]string {
	out := make(map[types.NodeId]string, len(c.SeedPeers))
	for id, addr := range c.SeedPeers {
		out[types.NodeId(id)] = addr
	}
	return out
}
