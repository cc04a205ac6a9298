package clickhouse

import (
	"errors"
	"time"
)

// Config holds configuration for the ch-go native client.
type Config struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	ConnMaxLifetime   time.Duration `yaml:"connMaxLifetime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	DialTimeout       time.Duration `yaml:"dialTimeout"`

	// Compression is one of lz4, zstd or none.
	Compression string `yaml:"compression"`

	MaxRetries     int           `yaml:"maxRetries"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `yaml:"retryMaxDelay"`
	QueryTimeout   time.Duration `yaml:"queryTimeout"`

	// Network labels metrics.
	Network string `yaml:"-"`
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}

	switch c.Compression {
	case "", "lz4", "zstd", "none":
	default:
		return errors.New("compression must be one of lz4, zstd, none")
	}

	return nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Database == "" {
		c.Database = "default"
	}

	if c.MaxConns == 0 {
		c.MaxConns = 4
	}

	if c.MinConns == 0 {
		c.MinConns = 1
	}

	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}

	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = time.Minute
	}

	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}

	if c.Compression == "" {
		c.Compression = "lz4"
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}

	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}

	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = 10 * time.Second
	}

	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}
}
