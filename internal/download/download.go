// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package download fetches full-text documents for study candidates from a
// configurable, ordered list of source backends. A candidate is offered to
// each backend that supports its identifiers, in configured order, until one
// produces a document; candidates no backend supports fail with the
// no-source reason.
package download

import (
	"context"
	"errors"
	"fmt"

	"github.com/neurostuff/ingest-engine/internal/batch"
	"github.com/neurostuff/ingest-engine/pkg/types"
)

// ErrNoSource marks candidates whose identifiers match no configured backend.
var ErrNoSource = errors.New(types.ReasonNoSource)

// Backend downloads documents from one source service in batches.
type Backend interface {
	// Name identifies the backend in documents and progress output.
	Name() string

	// Supports reports whether the backend can fetch this candidate based
	// on which identifier fields it carries.
	Supports(c types.StudyCandidate) bool

	// DownloadBatch fetches documents for candidates, one aligned result
	// per input. A non-nil error fails the whole sub-batch.
	DownloadBatch(ctx context.Context, candidates []types.StudyCandidate) ([]batch.Result[types.RawDocument], error)
}

// Service fans a chunk of candidates out to backends with ordered fallback.
type Service struct {
	backends []Backend
}

// NewService builds the backend chain from cfg.Sources. Unknown source
// names are an error so a typo in config fails fast.
func NewService(cfg types.DownloadConfig) (*Service, error) {
	sources := cfg.Sources
	if len(sources) == 0 {
		sources = []string{"pmc"}
	}

	var backends []Backend
	for _, name := range sources {
		switch name {
		case "pmc":
			backends = append(backends, newPMCBackend(cfg))
		case "elsevier":
			if cfg.ElsevierAPIKey == "" {
				return nil, fmt.Errorf("download source %q requires an API key", name)
			}
			backends = append(backends, newElsevierBackend(cfg))
		default:
			return nil, fmt.Errorf("unknown download source %q", name)
		}
	}
	return &Service{backends: backends}, nil
}

// Backends lists the configured backend names in fallback order.
func (s *Service) Backends() []string {
	names := make([]string, len(s.backends))
	for i, b := range s.backends {
		names[i] = b.Name()
	}
	return names
}

// Call is the download stage's batch call. Within one chunk, each candidate
// is first offered to the earliest backend that supports it; candidates that
// backend fails (individually or wholesale) fall through to the next
// supporting backend. Call itself never fails a whole chunk: backend
// outages degrade to per-item failures so one source being down cannot
// strand candidates another source could serve.
func (s *Service) Call(ctx context.Context, chunk []types.StudyCandidate) ([]batch.Result[types.RawDocument], error) {
	results := make([]batch.Result[types.RawDocument], len(chunk))
	attempted := make([]bool, len(chunk))

	// pending[i] is the index of the next backend to try for chunk[i].
	pending := make(map[int]int, len(chunk))
	for i := range chunk {
		pending[i] = 0
	}

	for len(pending) > 0 {
		// Group still-pending candidates by the next backend that supports
		// them. Exhausted candidates keep their last backend failure, or
		// fail with no-source if no backend ever matched.
		groups := make(map[int][]int)
		for i, next := range pending {
			b := s.nextSupporting(chunk[i], next)
			if b < 0 {
				if !attempted[i] {
					results[i] = batch.Fail[types.RawDocument](ErrNoSource)
				}
				delete(pending, i)
				continue
			}
			groups[b] = append(groups[b], i)
		}

		for b, indices := range groups {
			orderedIndices(indices)
			candidates := make([]types.StudyCandidate, len(indices))
			for j, i := range indices {
				candidates[j] = chunk[i]
			}

			subResults, err := s.backends[b].DownloadBatch(ctx, candidates)
			if err != nil || len(subResults) != len(candidates) {
				if err == nil {
					err = fmt.Errorf("%s returned %d results for %d candidates",
						s.backends[b].Name(), len(subResults), len(candidates))
				}
				// Whole-backend failure: every candidate falls through.
				for _, i := range indices {
					pending[i] = b + 1
					attempted[i] = true
					results[i] = batch.Fail[types.RawDocument](fmt.Errorf("%s: %w", s.backends[b].Name(), err))
				}
				continue
			}

			for j, i := range indices {
				if itemErr := subResults[j].Err; itemErr != nil {
					pending[i] = b + 1
					attempted[i] = true
					results[i] = batch.Fail[types.RawDocument](fmt.Errorf("%s: %w", s.backends[b].Name(), itemErr))
					continue
				}
				results[i] = subResults[j]
				delete(pending, i)
			}
		}
	}

	return results, nil
}

// nextSupporting returns the index of the first backend at or after from
// that supports the candidate, or -1.
func (s *Service) nextSupporting(c types.StudyCandidate, from int) int {
	for b := from; b < len(s.backends); b++ {
		if s.backends[b].Supports(c) {
			return b
		}
	}
	return -1
}

// orderedIndices sorts a small index slice in place (insertion sort; chunk
// sizes are bounded by the stage batch size).
func orderedIndices(indices []int) {
	for i := 1; i < len(indices); i++ {
		for j := i; j > 0 && indices[j] < indices[j-1]; j-- {
			indices[j], indices[j-1] = indices[j-1], indices[j]
		}
	}
}
