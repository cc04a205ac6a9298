package redis

import (
	"fmt"
)

// Config holds the Redis connection settings.
type Config struct {
	Address string `yaml:"address"`
	// Prefix namespaces every key: cursors and the leader lock.
	Prefix   string `yaml:"prefix" default:"cardano-indexer"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Validate checks the address and defaults the key prefix.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Prefix == "" {
		c.Prefix = "cardano-indexer"
	}

	return nil
}
