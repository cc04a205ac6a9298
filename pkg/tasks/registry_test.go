package tasks

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/cardano-indexer/internal/testutil"
	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/dispatcher"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/byron"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/genesis"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/multiera"
)

func names(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Descriptor().Name
	}

	return out
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	assert.Equal(t, []string{genesis.BlockTaskName, genesis.TransactionTaskName}, names(r.Tasks(task.EraGenesis)))
	assert.Equal(t, []string{
		byron.BlockTaskName,
		byron.TransactionTaskName,
		byron.AddressTaskName,
		byron.OutputTaskName,
		byron.InputTaskName,
	}, names(r.Tasks(task.EraByron)))
	assert.Len(t, r.Tasks(task.EraMultiEra), 8)

	err = r.Register(genesis.BlockTask{})
	assert.ErrorIs(t, err, task.ErrRegistrySealed)
}

func TestFullPlanValidates(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	d := dispatcher.New(log, r, testutil.FullPlan(r), dispatcher.Options{})
	require.NoError(t, d.Validate())

	planned, err := d.Describe(task.EraMultiEra)
	require.NoError(t, err)

	position := make(map[string]int, len(planned))
	for i, p := range planned {
		position[p.Name] = i
	}

	assert.Less(t, position[multiera.NativeAssetTaskName], position[multiera.OutputTaskName])
	assert.Less(t, position[multiera.OutputTaskName], position[multiera.UsedInputTaskName])
	assert.Less(t, position[multiera.StakeCredentialTaskName], position[multiera.AddressCredentialRelationTaskName])
}

func TestPredicatesOnEmptyBlock(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	d := dispatcher.New(log, r, testutil.FullPlan(r), dispatcher.Options{})

	g, err := d.Build(&task.BlockInfo{Era: task.EraMultiEra, Block: &cardano.Block{Type: cardano.BlockTypeBabbage, Era: "babbage"}})
	require.NoError(t, err)
	assert.Equal(t, []string{multiera.BlockTaskName}, g.Names())
	assert.Len(t, g.Skipped, 7)
}
