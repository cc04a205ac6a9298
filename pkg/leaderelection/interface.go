// Package leaderelection lets one of several indexer instances own the stream.
package leaderelection

import (
	"context"
	"time"
)

// LeadershipCallback is invoked on every leadership change. It runs on the election goroutine,
// so it must not block renewal for long.
type LeadershipCallback func(ctx context.Context, isLeader bool)

// Elector decides which node indexes.
type Elector interface {
	Start(ctx context.Context) error
	// Stop ends the election and releases the lock if held.
	Stop(ctx context.Context) error
	IsLeader() bool
	// OnLeadershipChange registers a callback invoked in registration order on every
	// leadership change, including the loss reported when a leader stops.
	OnLeadershipChange(callback LeadershipCallback)
	// GetLeaderID returns the node ID holding the lock, or ErrNoLeader.
	GetLeaderID() (string, error)
}

// Config holds the lock timings.
type Config struct {
	// TTL of the lock. A leader that fails to renew within TTL loses it.
	TTL time.Duration
	// RenewalInterval is how often the lock is renewed or, by followers, attempted.
	RenewalInterval time.Duration
	// NodeID identifies this instance. Empty generates a random ID.
	NodeID string
	// Network labels metrics. If empty it is taken from the last segment of the key.
	Network string
}

// DefaultConfig returns a 10s TTL renewed every 3s.
func DefaultConfig() *Config {
	return &Config{
		TTL:             10 * time.Second,
		RenewalInterval: 3 * time.Second,
	}
}
