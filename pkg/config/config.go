// Package config provides the configuration of cardano-indexer. It is loaded from YAML with
// struct-tag defaults applied first.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/cardano-indexer/pkg/clickhouse"
	"github.com/ethpandaops/cardano-indexer/pkg/redis"
	"github.com/ethpandaops/cardano-indexer/pkg/source"
	"github.com/ethpandaops/cardano-indexer/pkg/store/postgres"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the main configuration for cardano-indexer.
type Config struct {
	// MetricsAddr is the address to listen on for metrics.
	MetricsAddr string `yaml:"metricsAddr" default:":9090"`
	// HealthCheckAddr is the address to listen on for healthcheck.
	HealthCheckAddr *string `yaml:"healthCheckAddr"`
	// PProfAddr is the address to listen on for pprof.
	PProfAddr *string `yaml:"pprofAddr"`
	// APIAddr is the address to listen on for the API server.
	APIAddr *string `yaml:"apiAddr"`
	// LoggingLevel is the logging level to use.
	LoggingLevel string `yaml:"logging" default:"info"`
	// Network names the chain being indexed. It labels metrics and telemetry.
	Network string `yaml:"network" default:"mainnet"`
	// ExecutionPlan is a local path or http(s) URL of the execution plan.
	ExecutionPlan string `yaml:"executionPlan" default:"execution_plans/default.toml"`
	// Readonly makes every task look rows up instead of inserting them.
	Readonly bool `yaml:"readonly"`
	// Genesis is the Byron genesis distribution indexed into an empty store.
	Genesis GenesisConfig `yaml:"genesis"`
	// Storage selects and configures the relational store.
	Storage StorageConfig `yaml:"storage"`
	// Source is the Redis stream blocks and rollbacks are read from.
	Source source.RedisConfig `yaml:"source"`
	// Redis is the redis configuration.
	Redis *redis.Config `yaml:"redis"`
	// LeaderElection gates indexing to a single instance.
	LeaderElection LeaderElectionConfig `yaml:"leaderElection"`
	// Dispatcher controls task execution within a block.
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	// Telemetry exports task performance.
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// ProgressInterval is how often indexing progress is logged.
	ProgressInterval time.Duration `yaml:"progressInterval" default:"30s"`
	// ShutdownTimeout is the timeout for shutting down the server.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

// GenesisConfig locates the Byron genesis file.
type GenesisConfig struct {
	// File is the path of the Byron genesis JSON. Empty skips genesis indexing.
	File string `yaml:"file"`
}

// StorageConfig selects the store driver.
type StorageConfig struct {
	Driver   string          `yaml:"driver" default:"memory"`
	Postgres postgres.Config `yaml:"postgres"`
}

// Validate checks the driver and its settings.
func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		return c.Postgres.Validate()
	default:
		return fmt.Errorf("unknown storage driver %q, must be %s or %s", c.Driver, DriverMemory, DriverPostgres)
	}
}

// LeaderElectionConfig holds configuration for leader election.
type LeaderElectionConfig struct {
	Enabled bool `yaml:"enabled"`
	// TTL for leader lock.
	TTL time.Duration `yaml:"ttl" default:"10s"`
	// RenewalInterval is how often the lock is renewed.
	RenewalInterval time.Duration `yaml:"renewalInterval" default:"3s"`
	// Optional node ID (auto-generated if empty)
	NodeID string `yaml:"nodeId"`
}

// Validate checks the lock timings when election is enabled.
func (c *LeaderElectionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.RenewalInterval <= 0 || c.TTL <= c.RenewalInterval {
		return errors.New("ttl must be greater than a positive renewalInterval")
	}

	return nil
}

// DispatcherConfig controls task execution within a block.
type DispatcherConfig struct {
	// MaxParallelism bounds concurrently running tasks of a block. Zero uses GOMAXPROCS.
	MaxParallelism int `yaml:"maxParallelism"`
}

// TelemetryConfig controls task performance export.
type TelemetryConfig struct {
	// ClickHouse enables exporting epoch reports when set.
	ClickHouse *clickhouse.Config `yaml:"clickhouse"`
	// Samples additionally exports every task duration of every block.
	Samples bool `yaml:"samples"`
	// MaxRows and FlushInterval bound the sample buffer.
	MaxRows       int           `yaml:"maxRows" default:"10000"`
	FlushInterval time.Duration `yaml:"flushInterval" default:"5s"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Network == "" {
		return errors.New("network is required")
	}

	if c.ExecutionPlan == "" {
		return errors.New("executionPlan is required")
	}

	if c.Dispatcher.MaxParallelism < 0 {
		return errors.New("dispatcher.maxParallelism must not be negative")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage configuration: %w", err)
	}

	if err := c.LeaderElection.Validate(); err != nil {
		return fmt.Errorf("invalid leader election configuration: %w", err)
	}

	if c.Redis == nil {
		return errors.New("redis configuration is required")
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("invalid redis configuration: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("invalid source configuration: %w", err)
	}

	if c.Telemetry.ClickHouse != nil {
		if err := c.Telemetry.ClickHouse.Validate(); err != nil {
			return fmt.Errorf("invalid telemetry clickhouse configuration: %w", err)
		}
	}

	return nil
}

// Load reads a YAML config file over the defaults. It does not validate: commands check the
// sections they use.
func Load(file string) (*Config, error) {
	if file == "" {
		file = "config.yaml"
	}

	config := &Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	type plain Config

	if err := yaml.Unmarshal(yamlFile, (*plain)(config)); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}

	return config, nil
}
