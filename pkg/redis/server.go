package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client from configuration
func New(config *Config) (*redis.Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	if strings.HasPrefix(config.Address, "redis://") || strings.HasPrefix(config.Address, "rediss://") {
		opts, err := redis.ParseURL(config.Address)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}

		if config.Password != "" {
			opts.Password = config.Password
		}

		return redis.NewClient(opts), nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	}), nil
}

// Key joins parts onto the configured prefix.
func (c *Config) Key(parts ...string) string {
	return strings.Join(append([]string{c.Prefix}, parts...), ":")
}

// Ping checks the server is reachable.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	return nil
}
