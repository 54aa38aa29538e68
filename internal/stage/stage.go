// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stage wraps one batched service call as a named pipeline step.
package stage

import (
	"context"

	"github.com/neurostuff/ingest-engine/internal/batch"
	"github.com/neurostuff/ingest-engine/pkg/types"
)

// Stage is a named pipeline step: one batched external call plus the chunk
// sizing and retry limits appropriate for that service. The input and output
// item shapes are fixed by the type parameters. Stages do not detect
// already-advanced items; the orchestrator filters those before dispatch.
type Stage[I, O any] struct {
	Name types.Stage
	Call batch.Call[I, O]
	Opts batch.Options
}

// New builds a stage from its batch call and the service's batch config.
func New[I, O any](name types.Stage, cfg types.BatchConfig, call batch.Call[I, O]) Stage[I, O] {
	return Stage[I, O]{
		Name: name,
		Call: call,
		Opts: batch.Options{
			MaxBatchSize:   cfg.BatchSize,
			MaxConcurrency: cfg.Concurrency,
			MaxRetries:     cfg.MaxRetries,
		},
	}
}

// Apply runs the stage's batch call over items via the batch executor.
func (s Stage[I, O]) Apply(ctx context.Context, items []I) batch.Outcome[I, O] {
	return batch.Run(ctx, items, s.Call, s.Opts)
}
