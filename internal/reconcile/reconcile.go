// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reconcile

import (
	"context"
	"fmt"

	"github.com/neurostuff/ingest-engine/internal/batch"
	"github.com/neurostuff/ingest-engine/pkg/types"
)

// PondClient is the batched ns-pond lookup contract. For each neurostore id
// it returns the pond id that ns-pond currently associates with it, creating
// one if none exists. Results are positionally aligned with the input.
type PondClient interface {
	LookupOrCreateBatch(ctx context.Context, ids []types.NeurostoreStudyID) ([]batch.Result[types.PondID], error)
}

// Reconciler verifies and extends the identifier mapping store against
// ns-pond, one batched call per chunk of ids.
type Reconciler struct {
	store  *Store
	client PondClient
	opts   batch.Options
}

// New builds a Reconciler over the given mapping store and pond client.
func New(store *Store, client PondClient, cfg types.BatchConfig) *Reconciler {
	return &Reconciler{
		store:  store,
		client: client,
		opts: batch.Options{
			MaxBatchSize:   cfg.BatchSize,
			MaxConcurrency: cfg.Concurrency,
			MaxRetries:     cfg.MaxRetries,
		},
	}
}

// Sync reconciles the given neurostore ids against ns-pond and returns one
// outcome per input id, in input order. Pond failures for a subset of ids
// do not block the others. Re-running Sync with unchanged inputs is
// idempotent: no duplicate mappings are created and no conflicts are raised
// as long as both systems still agree.
func (r *Reconciler) Sync(ctx context.Context, ids []types.NeurostoreStudyID) ([]types.SyncOutcome, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	out := batch.Run(ctx, ids, r.client.LookupOrCreateBatch, r.opts)

	byID := make(map[types.NeurostoreStudyID]types.SyncOutcome, len(ids))
	for _, f := range out.Failed {
		detail := f.Reason
		if f.Err != nil {
			detail = f.Err.Error()
		}
		byID[f.Input] = types.SyncOutcome{
			NeurostoreID: f.Input,
			Result:       types.SyncFailed,
			Detail:       detail,
		}
	}

	// Mapping writes are applied sequentially so updates to one mapping are
	// serialized; the unique pond_id constraint backstops races with other
	// processes.
	for _, s := range out.Succeeded {
		outcome, err := r.reconcileOne(ctx, s.Input, s.Output)
		if err != nil {
			return nil, err
		}
		byID[s.Input] = outcome
	}

	outcomes := make([]types.SyncOutcome, len(ids))
	for i, id := range ids {
		outcomes[i] = byID[id]
	}
	return outcomes, nil
}

// reconcileOne applies one (neurostore id, pond id) answer to the store.
func (r *Reconciler) reconcileOne(ctx context.Context, nsID types.NeurostoreStudyID, pondID types.PondID) (types.SyncOutcome, error) {
	existing, found, err := r.store.Get(ctx, nsID)
	if err != nil {
		return types.SyncOutcome{}, fmt.Errorf("looking up mapping for %s: %w", nsID, err)
	}

	if found {
		if existing.PondID != pondID {
			// ns-pond diverged from the recorded mapping. Keep the original
			// mapping untouched and flag it; overwriting could lose a
			// legitimate update on either side.
			if err := r.store.MarkConflict(ctx, nsID); err != nil {
				return types.SyncOutcome{}, err
			}
			return types.SyncOutcome{
				NeurostoreID: nsID,
				PondID:       existing.PondID,
				Result:       types.SyncConflicted,
				Detail:       fmt.Sprintf("ns-pond reports %s, mapping has %s", pondID, existing.PondID),
			}, nil
		}

		if existing.Status == types.SyncConflict {
			// A previously recorded conflict stays on record until an
			// operator resolves it, even if the systems agree again.
			return types.SyncOutcome{
				NeurostoreID: nsID,
				PondID:       existing.PondID,
				Result:       types.SyncConflicted,
				Detail:       "mapping flagged conflicted; manual resolution required",
			}, nil
		}

		if err := r.store.MarkVerified(ctx, nsID); err != nil {
			return types.SyncOutcome{}, err
		}
		return types.SyncOutcome{
			NeurostoreID: nsID,
			PondID:       pondID,
			Result:       types.SyncVerified,
		}, nil
	}

	// No mapping yet. The pond id must not already belong to another
	// neurostore id (many-to-one is as much a conflict as one-to-many).
	owner, claimed, err := r.store.GetByPond(ctx, pondID)
	if err != nil {
		return types.SyncOutcome{}, fmt.Errorf("looking up pond id %s: %w", pondID, err)
	}
	if claimed {
		if err := r.store.MarkConflict(ctx, owner.NeurostoreID); err != nil {
			return types.SyncOutcome{}, err
		}
		return types.SyncOutcome{
			NeurostoreID: nsID,
			Result:       types.SyncConflicted,
			Detail:       fmt.Sprintf("pond id %s already mapped to %s", pondID, owner.NeurostoreID),
		}, nil
	}

	if err := r.store.Create(ctx, nsID, pondID); err != nil {
		return types.SyncOutcome{}, err
	}
	return types.SyncOutcome{
		NeurostoreID: nsID,
		PondID:       pondID,
		Result:       types.SyncCreated,
	}, nil
}
