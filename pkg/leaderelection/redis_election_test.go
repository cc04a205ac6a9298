package leaderelection_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	itest "github.com/ethpandaops/cardano-indexer/internal/testutil"
	"github.com/ethpandaops/cardano-indexer/pkg/common"
	"github.com/ethpandaops/cardano-indexer/pkg/leaderelection"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func fastConfig(nodeID string) *leaderelection.Config {
	return &leaderelection.Config{
		TTL:             500 * time.Millisecond,
		RenewalInterval: 100 * time.Millisecond,
		NodeID:          nodeID,
	}
}

func stop(t *testing.T, e leaderelection.Elector) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, e.Stop(ctx))
}

func TestNewRedisElector(t *testing.T) {
	client, _ := itest.NewMiniredisClient(t)

	tests := []struct {
		name   string
		key    string
		config *leaderelection.Config
	}{
		{
			name:   "explicit node id",
			key:    "cardano-indexer:leader:mainnet",
			config: fastConfig("indexer-0"),
		},
		{
			name: "nil config uses defaults",
			key:  "cardano-indexer:leader:preprod",
		},
		{
			name:   "generated node id",
			key:    "cardano-indexer:leader:preview",
			config: fastConfig(""),
		},
		{
			name:   "key without network segment",
			key:    "leader",
			config: fastConfig("indexer-0"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elector, err := leaderelection.NewRedisElector(client, quietLogger(), tt.key, tt.config)
			require.NoError(t, err)
			require.NotNil(t, elector)
			assert.False(t, elector.IsLeader())
		})
	}
}

func TestRedisElector_AcquiresAndReleases(t *testing.T) {
	client, _ := itest.NewMiniredisClient(t)
	key := "cardano-indexer:leader:acquire"

	cfg := fastConfig("indexer-acquire")
	cfg.Network = "preprod"

	elector, err := leaderelection.NewRedisElector(client, quietLogger(), key, cfg)
	require.NoError(t, err)

	var gained atomic.Bool

	elector.OnLeadershipChange(func(_ context.Context, isLeader bool) {
		if isLeader {
			gained.Store(true)
		}
	})

	require.NoError(t, elector.Start(context.Background()))

	require.Eventually(t, gained.Load, time.Second, 20*time.Millisecond)
	assert.True(t, elector.IsLeader())

	leader, err := elector.GetLeaderID()
	require.NoError(t, err)
	assert.Equal(t, "indexer-acquire", leader)

	status := testutil.ToFloat64(common.LeaderElectionStatus.WithLabelValues("preprod", "indexer-acquire"))
	assert.Equal(t, float64(1), status)

	stop(t, elector)

	assert.False(t, elector.IsLeader())
	assert.Zero(t, client.Exists(context.Background(), key).Val(), "lock should be released on stop")
}

func TestRedisElector_SingleLeader(t *testing.T) {
	client, _ := itest.NewMiniredisClient(t)
	key := "cardano-indexer:leader:single"

	electors := make([]*leaderelection.RedisElector, 0, 3)

	for _, id := range []string{"indexer-0", "indexer-1", "indexer-2"} {
		e, err := leaderelection.NewRedisElector(client, quietLogger(), key, fastConfig(id))
		require.NoError(t, err)
		require.NoError(t, e.Start(context.Background()))

		electors = append(electors, e)
	}

	leaders := func() int {
		n := 0

		for _, e := range electors {
			if e.IsLeader() {
				n++
			}
		}

		return n
	}

	require.Eventually(t, func() bool { return leaders() == 1 }, time.Second, 20*time.Millisecond)

	// Leadership stays with one node across renewals.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, leaders())

	for _, e := range electors {
		stop(t, e)
	}
}

func TestRedisElector_Failover(t *testing.T) {
	client, _ := itest.NewMiniredisClient(t)
	key := "cardano-indexer:leader:failover"

	first, err := leaderelection.NewRedisElector(client, quietLogger(), key, fastConfig("indexer-0"))
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background()))
	require.Eventually(t, first.IsLeader, time.Second, 20*time.Millisecond)

	second, err := leaderelection.NewRedisElector(client, quietLogger(), key, fastConfig("indexer-1"))
	require.NoError(t, err)
	require.NoError(t, second.Start(context.Background()))

	time.Sleep(200 * time.Millisecond)
	assert.False(t, second.IsLeader())

	stop(t, first)

	require.Eventually(t, second.IsLeader, 2*time.Second, 20*time.Millisecond)

	stop(t, second)
}

func TestOnLeadershipChange_GainThenLoss(t *testing.T) {
	client, _ := itest.NewMiniredisClient(t)
	ctx := context.Background()
	key := "cardano-indexer:leader:callbacks"
	cfg := fastConfig("indexer-callbacks")

	elector, err := leaderelection.NewRedisElector(client, quietLogger(), key, cfg)
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []bool
	)

	elector.OnLeadershipChange(func(_ context.Context, isLeader bool) {
		mu.Lock()
		defer mu.Unlock()

		events = append(events, isLeader)
	})

	require.NoError(t, elector.Start(ctx))
	require.Eventually(t, elector.IsLeader, time.Second, 20*time.Millisecond)

	// Another node takes the lock.
	client.Set(ctx, key, "someone-else", cfg.TTL)

	require.Eventually(t, func() bool { return !elector.IsLeader() }, time.Second, 20*time.Millisecond)

	mu.Lock()
	got := append([]bool(nil), events...)
	mu.Unlock()

	require.GreaterOrEqual(t, len(got), 2)
	assert.True(t, got[0])
	assert.False(t, got[len(got)-1])

	stop(t, elector)
}

func TestRedisElector_StopWithoutStart(t *testing.T) {
	client, _ := itest.NewMiniredisClient(t)

	elector, err := leaderelection.NewRedisElector(client, quietLogger(), "cardano-indexer:leader:idle", fastConfig("idle"))
	require.NoError(t, err)

	stop(t, elector)
	stop(t, elector)
}
