// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch runs batched external calls over a collection of items with
// bounded concurrency and per-item failure isolation. It is stateless and
// shared by every pipeline stage.
package batch

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// whole-chunk failures. Tests override this to avoid real sleeps.
var RetryBaseDelay = 500 * time.Millisecond

const (
	defaultBatchSize   = 20
	defaultConcurrency = 4
	defaultMaxRetries  = 3
)

// Result is the per-item outcome of one chunk call. Exactly one of Value
// or Err is meaningful.
type Result[O any] struct {
	Value O
	Err   error
}

// Ok wraps a successful per-item result.
func Ok[O any](v O) Result[O] { return Result[O]{Value: v} }

// Fail wraps a per-item error.
func Fail[O any](err error) Result[O] {
	return Result[O]{Err: err}
}

// Call invokes one external batch endpoint for a chunk of items. It must
// return exactly one Result per input item, positionally aligned. A non-nil
// error means the whole chunk failed (transport or service error) and is
// retried; per-item errors go inside the Results.
type Call[I, O any] func(ctx context.Context, chunk []I) ([]Result[O], error)

// Options bounds chunking, concurrency, and whole-chunk retries for one Run.
type Options struct {
	MaxBatchSize   int
	MaxConcurrency int
	MaxRetries     int
}

func (o Options) withDefaults() Options {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = defaultBatchSize
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = defaultConcurrency
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = defaultMaxRetries
	}
	return o
}

// ReasonChunkCallError marks items whose chunk call failed wholesale after
// exhausting retries.
const ReasonChunkCallError = "chunk-call-error"

// ReasonRunCanceled marks items that were never dispatched because the run
// context was cancelled.
const ReasonRunCanceled = "run-canceled"

// Success pairs one input item with its output.
type Success[I, O any] struct {
	Input  I
	Output O
}

// Failure pairs one input item with the reason it failed.
type Failure[I any] struct {
	Input  I
	Reason string
	Err    error
}

// Outcome partitions a batch. Every input item appears in exactly one
// partition, and input order is preserved within each.
type Outcome[I, O any] struct {
	Succeeded []Success[I, O]
	Failed    []Failure[I]

	// Attempts counts chunk call invocations, including retries.
	Attempts int
}

// Total returns the number of items processed.
func (o Outcome[I, O]) Total() int {
	return len(o.Succeeded) + len(o.Failed)
}

// HasFailures reports whether any items failed.
func (o Outcome[I, O]) HasFailures() bool {
	return len(o.Failed) > 0
}

// chunkOutcome holds the aligned per-item results for one chunk.
type chunkOutcome[O any] struct {
	results  []Result[O]
	reason   string
	err      error
	attempts int
}

// Run splits items into chunks of at most MaxBatchSize, dispatches them with
// at most MaxConcurrency in-flight calls, and partitions the items by
// outcome. A chunk call that fails wholesale is retried with exponential
// backoff up to MaxRetries times; if it still fails, every item in that
// chunk is marked failed with ReasonChunkCallError. Sibling chunks are
// unaffected.
//
// Cancelling ctx stops dispatching new chunks but lets in-flight chunks
// finish and record their results; undispatched items are marked failed with
// ReasonRunCanceled so the partition stays exhaustive.
func Run[I, O any](ctx context.Context, items []I, call Call[I, O], opts Options) Outcome[I, O] {
	opts = opts.withDefaults()

	var outcome Outcome[I, O]
	if len(items) == 0 {
		return outcome
	}

	chunks := chunkItems(items, opts.MaxBatchSize)
	results := make([]chunkOutcome[O], len(chunks))

	// The errgroup is used purely as a bounded wait group: workers isolate
	// their own failures into results and never return an error.
	var g errgroup.Group
	g.SetLimit(opts.MaxConcurrency)

	canceledFrom := len(chunks)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			canceledFrom = i
			break
		}
		g.Go(func() error {
			// Re-check after waiting for a concurrency slot: a cancellation
			// that arrived while queued means this chunk was never in flight.
			if ctx.Err() != nil {
				results[i] = chunkOutcome[O]{reason: ReasonRunCanceled, err: ctx.Err()}
				return nil
			}
			results[i] = runChunk(ctx, chunk, call, opts.MaxRetries)
			return nil
		})
	}
	g.Wait()

	for i := canceledFrom; i < len(chunks); i++ {
		results[i] = chunkOutcome[O]{reason: ReasonRunCanceled, err: ctx.Err()}
	}

	// Reassemble in input order. Chunks complete out of order, but results
	// are index-addressed so the partitions come out ordered.
	for i, chunk := range chunks {
		co := results[i]
		outcome.Attempts += co.attempts
		if co.reason != "" {
			for _, item := range chunk {
				outcome.Failed = append(outcome.Failed, Failure[I]{Input: item, Reason: co.reason, Err: co.err})
			}
			continue
		}
		for j, item := range chunk {
			if err := co.results[j].Err; err != nil {
				outcome.Failed = append(outcome.Failed, Failure[I]{Input: item, Reason: err.Error(), Err: err})
				continue
			}
			outcome.Succeeded = append(outcome.Succeeded, Success[I, O]{Input: item, Output: co.results[j].Value})
		}
	}

	return outcome
}

// runChunk invokes call for one chunk, retrying whole-chunk failures.
func runChunk[I, O any](ctx context.Context, chunk []I, call Call[I, O], maxRetries int) chunkOutcome[O] {
	var lastErr error
	var attempts int

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * RetryBaseDelay
			select {
			case <-ctx.Done():
				return chunkOutcome[O]{reason: ReasonChunkCallError, err: lastErr, attempts: attempts}
			case <-time.After(backoff):
			}
		}

		attempts++
		results, err := call(ctx, chunk)
		if err != nil {
			lastErr = err
			continue
		}
		if len(results) != len(chunk) {
			lastErr = fmt.Errorf("batch call returned %d results for %d items", len(results), len(chunk))
			continue
		}
		return chunkOutcome[O]{results: results, attempts: attempts}
	}

	return chunkOutcome[O]{reason: ReasonChunkCallError, err: lastErr, attempts: attempts}
}

// chunkItems splits items into consecutive chunks of at most size,
// preserving order.
func chunkItems[I any](items []I, size int) [][]I {
	var chunks [][]I
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
