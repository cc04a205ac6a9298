package multiera

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/shared"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/slots"
)

// credentialsOf returns the payment and stake credentials carried by an address payload.
// Byron and unparsable payloads carry none.
func credentialsOf(payload []byte) (payment, stake []byte) {
	addr, err := cardano.ParseAddress(payload)
	if err != nil {
		return nil, nil
	}

	if addr.Payment != nil {
		payment = addr.Payment.Bytes()
	}

	if addr.Stake != nil {
		stake = addr.Stake.Bytes()
	}

	return payment, stake
}

// StakeCredentialTask stores the credentials found in the block's output addresses.
type StakeCredentialTask struct{}

func (StakeCredentialTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         StakeCredentialTaskName,
		Era:          task.EraMultiEra,
		Dependencies: []string{AddressTaskName},
		Reads:        []task.SlotRef{slots.Transactions, slots.Addresses},
		Writes:       []task.SlotRef{slots.StakeCredentials},
	}
}

func (StakeCredentialTask) ShouldRun(block *task.BlockInfo, _ task.Config) task.Prerun {
	return task.When(block.OutputCount() > 0)
}

func (StakeCredentialTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
	txs, err := transactions(tc)
	if err != nil {
		return nil, err
	}

	addrs, err := task.Get(tc.View, slots.Addresses)
	if err != nil {
		return nil, err
	}

	var uses []shared.CredentialUse

	for i, tx := range tc.Block.Block.Transactions {
		for _, o := range tx.Outputs {
			payload := shared.OutputAddress(nil, tx.Hash, o.Address)
			if _, ok := addrs[model.AddressKey(payload)]; !ok {
				return nil, fmt.Errorf("address of output %x#%d was not indexed", tx.Hash, o.Index)
			}

			payment, stake := credentialsOf(payload)

			for _, c := range [][]byte{payment, stake} {
				if c != nil {
					uses = append(uses, shared.CredentialUse{Credential: c, TxID: txs[i].ID})
				}
			}
		}
	}

	creds, err := shared.EnsureStakeCredentials(ctx, tc, uses)
	if err != nil {
		return nil, err
	}

	return task.Output(slots.StakeCredentials, creds), nil
}

// AddressCredentialRelationTask links addresses to the credentials they contain.
type AddressCredentialRelationTask struct{}

func (AddressCredentialRelationTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         AddressCredentialRelationTaskName,
		Era:          task.EraMultiEra,
		Dependencies: []string{AddressTaskName, StakeCredentialTaskName},
		Reads:        []task.SlotRef{slots.Addresses, slots.StakeCredentials},
	}
}

func (AddressCredentialRelationTask) ShouldRun(block *task.BlockInfo, cfg task.Config) task.Prerun {
	return task.When(!cfg.Readonly() && block.OutputCount() > 0)
}

func (AddressCredentialRelationTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
	addrs, err := task.Get(tc.View, slots.Addresses)
	if err != nil {
		return nil, err
	}

	creds, err := task.Get(tc.View, slots.StakeCredentials)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(addrs))
	for k := range addrs {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var rels []*model.AddressCredentialRelation

	link := func(addr *model.Address, cred []byte, rel model.Relation) error {
		if cred == nil {
			return nil
		}

		row, ok := creds[(&model.StakeCredential{Credential: cred}).Key()]
		if !ok {
			return fmt.Errorf("credential %x of address %x was not indexed", cred, addr.Payload)
		}

		rels = append(rels, &model.AddressCredentialRelation{
			AddressID:    addr.ID,
			CredentialID: row.ID,
			Relation:     rel,
		})

		return nil
	}

	for _, k := range keys {
		addr := addrs[k]
		payment, stake := credentialsOf(addr.Payload)

		if err := link(addr, payment, model.RelationPayment); err != nil {
			return nil, err
		}

		if err := link(addr, stake, model.RelationStake); err != nil {
			return nil, err
		}
	}

	if len(rels) > 0 {
		if err := tc.Tx.InsertAddressCredentialRelations(ctx, rels); err != nil {
			return nil, fmt.Errorf("insert address credential relations: %w", err)
		}
	}

	return nil, nil
}
