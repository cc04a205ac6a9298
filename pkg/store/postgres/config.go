package postgres

import (
	"errors"
	"time"
)

// Config holds the PostgreSQL connection settings.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns" default:"10"`
	MaxIdleConns    int           `yaml:"maxIdleConns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" default:"30m"`
	// ConnectTimeout bounds the initial connection attempts.
	ConnectTimeout time.Duration `yaml:"connectTimeout" default:"2m"`
}

// Validate checks the DSN and pool size.
func (c *Config) Validate() error {
	if c.DSN == "" {
		return errors.New("dsn is required")
	}

	if c.MaxOpenConns <= 0 {
		return errors.New("maxOpenConns must be positive")
	}

	return nil
}
