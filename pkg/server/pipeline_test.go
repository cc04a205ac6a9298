package server

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/cardano-indexer/pkg/config"
	"github.com/ethpandaops/cardano-indexer/pkg/store/memory"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

const defaultPlan = "../../execution_plans/default.toml"

func TestDefaultPlanValidates(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	d, err := NewDispatcher(context.Background(), log, defaultPlan, PipelineOptions{Network: "test"}, nil)
	require.NoError(t, err)

	for era, want := range map[task.Era]int{
		task.EraGenesis:  2,
		task.EraByron:    5,
		task.EraMultiEra: 8,
	} {
		planned, err := d.Describe(era)
		require.NoError(t, err)
		assert.Len(t, planned, want, era.String())
	}
}

func TestReadonlyPipelineForcesReadonly(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	p, err := NewPipeline(context.Background(), log, memory.New(), defaultPlan, PipelineOptions{
		Network:  "test",
		Readonly: true,
	})
	require.NoError(t, err)

	planned, err := p.Dispatcher.Describe(task.EraMultiEra)
	require.NoError(t, err)

	for _, pt := range planned {
		assert.True(t, pt.Config.Readonly(), pt.Name)
	}

	assert.NotNil(t, p.Byron)
	assert.NotNil(t, p.MultiEra)
	assert.NotNil(t, p.Genesis)
}

func TestNewDispatcherMissingPlan(t *testing.T) {
	_, err := NewDispatcher(context.Background(), logrus.New(), "does/not/exist.toml", PipelineOptions{}, nil)
	require.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	log := logrus.New()

	s, err := OpenStore(context.Background(), log, config.StorageConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)
	require.NoError(t, s.Close())

	_, err = OpenStore(context.Background(), log, config.StorageConfig{Driver: "sqlite"})
	require.Error(t, err)
}
