// Package tasks assembles the process-wide task registry.
package tasks

import (
	"fmt"

	"github.com/ethpandaops/cardano-indexer/pkg/task"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/byron"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/genesis"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/multiera"
)

// NewRegistry returns a sealed registry holding every era's tasks.
func NewRegistry() (*task.Registry, error) {
	r := task.NewRegistry()

	for _, reg := range []struct {
		era task.Era
		fn  func(*task.Registry) error
	}{
		{task.EraGenesis, genesis.Register},
		{task.EraByron, byron.Register},
		{task.EraMultiEra, multiera.Register},
	} {
		if err := reg.fn(r); err != nil {
			return nil, fmt.Errorf("register %s tasks: %w", reg.era, err)
		}
	}

	r.Seal()

	return r, nil
}
