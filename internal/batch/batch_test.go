// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	// Use a tiny base delay so tests finish quickly.
	RetryBaseDelay = 1 * time.Millisecond
}

// doubler is a well-behaved batch call: every item succeeds.
func doubler(_ context.Context, chunk []int) ([]Result[int], error) {
	results := make([]Result[int], len(chunk))
	for i, n := range chunk {
		results[i] = Ok(n * 2)
	}
	return results, nil
}

func TestRunPartitionIsExhaustiveAndOrdered(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	// Fail every odd item inside otherwise-successful chunk calls.
	call := func(_ context.Context, chunk []int) ([]Result[int], error) {
		results := make([]Result[int], len(chunk))
		for i, n := range chunk {
			if n%2 == 1 {
				results[i] = Fail[int](fmt.Errorf("odd item %d", n))
			} else {
				results[i] = Ok(n * 2)
			}
		}
		return results, nil
	}

	out := Run(context.Background(), items, call, Options{MaxBatchSize: 3, MaxConcurrency: 2})

	if out.Total() != len(items) {
		t.Fatalf("Total() = %d, want %d", out.Total(), len(items))
	}

	var succeeded, failed []int
	for _, s := range out.Succeeded {
		succeeded = append(succeeded, s.Input)
	}
	for _, f := range out.Failed {
		failed = append(failed, f.Input)
	}
	assert.Equal(t, []int{2, 4, 6}, succeeded)
	assert.Equal(t, []int{1, 3, 5, 7}, failed)

	for _, s := range out.Succeeded {
		assert.Equal(t, s.Input*2, s.Output)
	}
}

func TestRunEmptyInput(t *testing.T) {
	out := Run(context.Background(), nil, doubler, Options{})
	if out.Total() != 0 {
		t.Errorf("Total() = %d, want 0", out.Total())
	}
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	var calls int32
	call := func(_ context.Context, chunk []int) ([]Result[int], error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nil, errors.New("transient service error")
		}
		return doubler(context.Background(), chunk)
	}

	out := Run(context.Background(), []int{1, 2, 3}, call, Options{MaxBatchSize: 10, MaxRetries: 3})

	require.Len(t, out.Succeeded, 3)
	assert.Empty(t, out.Failed)
	assert.Equal(t, 3, out.Attempts)
}

func TestRunChunkFailureIsolatedFromSiblings(t *testing.T) {
	// The chunk containing item 3 always fails wholesale; the others succeed.
	call := func(ctx context.Context, chunk []int) ([]Result[int], error) {
		for _, n := range chunk {
			if n == 3 {
				return nil, errors.New("service down")
			}
		}
		return doubler(ctx, chunk)
	}

	out := Run(context.Background(), []int{1, 2, 3, 4, 5, 6}, call,
		Options{MaxBatchSize: 2, MaxConcurrency: 3, MaxRetries: 1})

	require.Len(t, out.Failed, 2)
	for _, f := range out.Failed {
		assert.Equal(t, ReasonChunkCallError, f.Reason)
		assert.ErrorContains(t, f.Err, "service down")
	}
	require.Len(t, out.Succeeded, 4)

	var succeeded []int
	for _, s := range out.Succeeded {
		succeeded = append(succeeded, s.Input)
	}
	assert.Equal(t, []int{1, 2, 5, 6}, succeeded)
}

func TestRunLengthMismatchIsChunkCallError(t *testing.T) {
	call := func(_ context.Context, chunk []int) ([]Result[int], error) {
		return []Result[int]{Ok(1)}, nil
	}

	out := Run(context.Background(), []int{1, 2, 3}, call, Options{MaxBatchSize: 3, MaxRetries: 0})

	require.Len(t, out.Failed, 3)
	assert.Equal(t, ReasonChunkCallError, out.Failed[0].Reason)
	assert.True(t, strings.Contains(out.Failed[0].Err.Error(), "1 results for 3 items"))
}

func TestRunBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	call := func(_ context.Context, chunk []int) ([]Result[int], error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return doubler(context.Background(), chunk)
	}

	items := make([]int, 20)
	for i := range items {
		items[i] = i
	}
	out := Run(context.Background(), items, call, Options{MaxBatchSize: 1, MaxConcurrency: 3})

	assert.Len(t, out.Succeeded, 20)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRunCancellationStopsDispatchButKeepsCompletedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var once sync.Once
	call := func(_ context.Context, chunk []int) ([]Result[int], error) {
		// Cancel the run while the first chunk is in flight. The in-flight
		// chunk still completes and its results are recorded.
		once.Do(cancel)
		time.Sleep(2 * time.Millisecond)
		return doubler(context.Background(), chunk)
	}

	out := Run(ctx, []int{1, 2, 3, 4, 5, 6}, call, Options{MaxBatchSize: 2, MaxConcurrency: 1})

	if out.Total() != 6 {
		t.Fatalf("Total() = %d, want 6 (partition must stay exhaustive)", out.Total())
	}
	require.NotEmpty(t, out.Succeeded, "in-flight chunk results must not be lost")
	for _, f := range out.Failed {
		assert.Equal(t, ReasonRunCanceled, f.Reason)
	}
}

func TestChunkItems(t *testing.T) {
	tests := []struct {
		name  string
		items []int
		size  int
		want  [][]int
	}{
		{"even split", []int{1, 2, 3, 4}, 2, [][]int{{1, 2}, {3, 4}}},
		{"remainder", []int{1, 2, 3}, 2, [][]int{{1, 2}, {3}}},
		{"single chunk", []int{1, 2}, 10, [][]int{{1, 2}}},
		{"empty", nil, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkItems(tt.items, tt.size)
			assert.Equal(t, tt.want, got)
		})
	}
}
