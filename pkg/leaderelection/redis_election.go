package leaderelection

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/common"
)

// ErrNoLeader is returned by GetLeaderID when no node holds the lock.
var ErrNoLeader = errors.New("no leader elected")

var (
	// KEYS[1] lock, ARGV[1] node id, ARGV[2] ttl in milliseconds.
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)

	// KEYS[1] lock, ARGV[1] node id.
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
)

// RedisElector holds a leader lock in Redis. The lock is a key set with NX and a TTL, renewed by
// its owner every RenewalInterval.
type RedisElector struct {
	client  *redis.Client
	log     logrus.FieldLogger
	config  *Config
	nodeID  string
	keyName string
	network string

	mu          sync.RWMutex
	isLeader    bool
	leaderSince time.Time
	stopped     bool

	callbacksMu sync.RWMutex
	callbacks   []LeadershipCallback

	done chan struct{}
	wg   sync.WaitGroup
}

// NewRedisElector creates an elector competing for keyName.
func NewRedisElector(client *redis.Client, log logrus.FieldLogger, keyName string, config *Config) (*RedisElector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	nodeID := config.NodeID
	if nodeID == "" {
		id := make([]byte, 16)

		if _, err := rand.Read(id); err != nil {
			return nil, fmt.Errorf("failed to generate node ID: %w", err)
		}

		nodeID = hex.EncodeToString(id)
	}

	network := config.Network
	if network == "" {
		// Key format is "<prefix>:leader:<network>".
		network = "unknown"

		if parts := strings.Split(keyName, ":"); len(parts) >= 3 {
			network = parts[len(parts)-1]
		}
	}

	return &RedisElector{
		client:  client,
		log:     log.WithFields(logrus.Fields{"component": "leader-election", "node_id": nodeID}),
		config:  config,
		nodeID:  nodeID,
		keyName: keyName,
		network: network,
		done:    make(chan struct{}),
	}, nil
}

// Start runs the election loop until ctx is done or Stop is called.
func (e *RedisElector) Start(ctx context.Context) error {
	e.log.WithField("key", e.keyName).Info("Starting leader election")

	common.LeaderElectionStatus.WithLabelValues(e.network, e.nodeID).Set(0)

	e.wg.Go(func() {
		e.run(ctx)
	})

	return nil
}

// Stop ends the election loop and releases the lock if held. Callbacks see the loss.
func (e *RedisElector) Stop(ctx context.Context) error {
	e.mu.Lock()

	if e.stopped {
		e.mu.Unlock()

		return nil
	}

	e.stopped = true
	e.mu.Unlock()

	e.log.Info("Stopping leader election")

	close(e.done)
	e.wg.Wait()

	if !e.IsLeader() {
		return nil
	}

	if err := e.release(ctx); err != nil {
		e.log.WithError(err).Error("Failed to release leadership on stop")
		common.LeaderElectionErrors.WithLabelValues(e.network, e.nodeID, "release").Inc()
	}

	e.setLeader(ctx, false)

	return nil
}

// IsLeader reports whether this node holds the lock.
func (e *RedisElector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.isLeader
}

// GetLeaderID returns the node ID stored in the lock.
func (e *RedisElector) GetLeaderID() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	val, err := e.client.Get(ctx, e.keyName).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoLeader
	}

	if err != nil {
		return "", fmt.Errorf("failed to get leader ID: %w", err)
	}

	return val, nil
}

// OnLeadershipChange registers a callback. Callbacks run synchronously on the election
// goroutine in registration order.
func (e *RedisElector) OnLeadershipChange(callback LeadershipCallback) {
	e.callbacksMu.Lock()
	defer e.callbacksMu.Unlock()

	e.callbacks = append(e.callbacks, callback)
}

func (e *RedisElector) run(ctx context.Context) {
	ticker := time.NewTicker(e.config.RenewalInterval)
	defer ticker.Stop()

	for {
		held := e.IsLeader()

		switch {
		case held && !e.renew(ctx):
			e.setLeader(ctx, false)
		case !held && e.acquire(ctx):
			e.setLeader(ctx, true)
		}

		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
		}
	}
}

func (e *RedisElector) acquire(ctx context.Context) bool {
	ok, err := e.client.SetNX(ctx, e.keyName, e.nodeID, e.config.TTL).Result()
	if err != nil {
		e.log.WithError(err).Error("Failed to acquire leadership")
		common.LeaderElectionErrors.WithLabelValues(e.network, e.nodeID, "acquire").Inc()

		return false
	}

	if !ok {
		e.log.Debug("Lock held by another node")
	}

	return ok
}

func (e *RedisElector) renew(ctx context.Context) bool {
	val, err := renewScript.Run(ctx, e.client, []string{e.keyName}, e.nodeID, e.config.TTL.Milliseconds()).Int64()
	if err != nil {
		e.log.WithError(err).Error("Failed to renew leadership")
		common.LeaderElectionErrors.WithLabelValues(e.network, e.nodeID, "renew").Inc()

		return false
	}

	if val != 1 {
		e.log.Warn("Failed to renew leadership, lock not owned by this node")
		common.LeaderElectionErrors.WithLabelValues(e.network, e.nodeID, "renew").Inc()

		return false
	}

	return true
}

func (e *RedisElector) release(ctx context.Context) error {
	val, err := releaseScript.Run(ctx, e.client, []string{e.keyName}, e.nodeID).Int64()
	if err != nil {
		return fmt.Errorf("failed to release leadership: %w", err)
	}

	if val == 0 {
		e.log.Warn("Could not release leadership, lock not owned by this node")
	} else {
		e.log.Info("Released leadership")
	}

	return nil
}

// setLeader records a transition, updates metrics and notifies callbacks. It is a no-op when the
// state does not change.
func (e *RedisElector) setLeader(ctx context.Context, leader bool) {
	e.mu.Lock()

	if e.isLeader == leader {
		e.mu.Unlock()

		return
	}

	e.isLeader = leader
	since := e.leaderSince

	if leader {
		e.leaderSince = time.Now()
	}

	e.mu.Unlock()

	if leader {
		e.log.Info("Gained leadership")
		common.LeaderElectionStatus.WithLabelValues(e.network, e.nodeID).Set(1)
		common.LeaderElectionTransitions.WithLabelValues(e.network, e.nodeID, "gained").Inc()
	} else {
		e.log.Info("Lost leadership")
		common.LeaderElectionStatus.WithLabelValues(e.network, e.nodeID).Set(0)
		common.LeaderElectionTransitions.WithLabelValues(e.network, e.nodeID, "lost").Inc()
		common.LeaderElectionDuration.WithLabelValues(e.network, e.nodeID).Observe(time.Since(since).Seconds())
	}

	e.callbacksMu.RLock()
	callbacks := append([]LeadershipCallback(nil), e.callbacks...)
	e.callbacksMu.RUnlock()

	for _, cb := range callbacks {
		cb(ctx, leader)
	}
}
