// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurostuff/ingest-engine/internal/batch"
	"github.com/neurostuff/ingest-engine/pkg/types"
)

// fakeBackend downloads everything it supports unless told to fail.
type fakeBackend struct {
	name      string
	supports  func(types.StudyCandidate) bool
	failItems map[string]string // hash id -> error message
	failAll   error
	calls     int
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Supports(c types.StudyCandidate) bool { return b.supports(c) }

func (b *fakeBackend) DownloadBatch(_ context.Context, candidates []types.StudyCandidate) ([]batch.Result[types.RawDocument], error) {
	b.calls++
	if b.failAll != nil {
		return nil, b.failAll
	}
	results := make([]batch.Result[types.RawDocument], len(candidates))
	for i, c := range candidates {
		if msg, ok := b.failItems[c.HashID()]; ok {
			results[i] = batch.Fail[types.RawDocument](errors.New(msg))
			continue
		}
		results[i] = batch.Ok(types.RawDocument{Candidate: c, SourceName: b.name, Body: []byte("doc")})
	}
	return results, nil
}

func byPMCID(c types.StudyCandidate) bool { return c.PMCID != "" }
func byDOI(c types.StudyCandidate) bool   { return c.DOI != "" }

func TestCallRoutesToFirstSupportingBackend(t *testing.T) {
	pmc := &fakeBackend{name: "pmc", supports: byPMCID}
	els := &fakeBackend{name: "elsevier", supports: byDOI}
	s := &Service{backends: []Backend{pmc, els}}

	chunk := []types.StudyCandidate{
		{PMID: "1", PMCID: "PMC1"},
		{PMID: "2", DOI: "10.1/a"},
		{PMID: "3", PMCID: "PMC3", DOI: "10.1/b"},
	}
	results, err := s.Call(context.Background(), chunk)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "pmc", results[0].Value.SourceName)
	assert.Equal(t, "elsevier", results[1].Value.SourceName)
	assert.Equal(t, "pmc", results[2].Value.SourceName, "pmc is first in the chain")
	assert.Equal(t, 1, pmc.calls)
	assert.Equal(t, 1, els.calls)
}

func TestCallFallsThroughOnItemFailure(t *testing.T) {
	c := types.StudyCandidate{PMID: "1", PMCID: "PMC1", DOI: "10.1/a"}
	pmc := &fakeBackend{name: "pmc", supports: byPMCID,
		failItems: map[string]string{c.HashID(): "embargoed"}}
	els := &fakeBackend{name: "elsevier", supports: byDOI}
	s := &Service{backends: []Backend{pmc, els}}

	results, err := s.Call(context.Background(), []types.StudyCandidate{c})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "elsevier", results[0].Value.SourceName)
}

func TestCallFallsThroughOnBackendOutage(t *testing.T) {
	pmc := &fakeBackend{name: "pmc", supports: byPMCID, failAll: errors.New("service down")}
	els := &fakeBackend{name: "elsevier", supports: byDOI}
	s := &Service{backends: []Backend{pmc, els}}

	withDOI := types.StudyCandidate{PMID: "1", PMCID: "PMC1", DOI: "10.1/a"}
	pmcOnly := types.StudyCandidate{PMID: "2", PMCID: "PMC2"}

	results, err := s.Call(context.Background(), []types.StudyCandidate{withDOI, pmcOnly})
	require.NoError(t, err)

	// The candidate with a DOI falls through to elsevier.
	require.NoError(t, results[0].Err)
	assert.Equal(t, "elsevier", results[0].Value.SourceName)

	// The pmc-only candidate keeps the outage error, not no-source.
	require.Error(t, results[1].Err)
	assert.Contains(t, results[1].Err.Error(), "service down")
}

func TestCallNoSupportingBackend(t *testing.T) {
	pmc := &fakeBackend{name: "pmc", supports: byPMCID}
	s := &Service{backends: []Backend{pmc}}

	results, err := s.Call(context.Background(), []types.StudyCandidate{{PMID: "1", DOI: "10.1/a"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrNoSource)
	assert.Zero(t, pmc.calls)
}

func TestNewServiceValidatesSources(t *testing.T) {
	_, err := NewService(types.DownloadConfig{Sources: []string{"pmc", "scihub"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scihub")

	_, err = NewService(types.DownloadConfig{Sources: []string{"elsevier"}})
	require.Error(t, err, "elsevier without an API key must be rejected")

	s, err := NewService(types.DownloadConfig{
		Sources:        []string{"pmc", "elsevier"},
		ElsevierAPIKey: "key",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pmc", "elsevier"}, s.Backends())
}

func TestPMCBackendDownloadBatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fulltext/batch", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"documents":[
			{"pmcid":"PMC1","content_type":"application/xml","body":"<article>one</article>"},
			{"pmcid":"PMC2","error":"not open access"}
		]}`)
	}))
	defer ts.Close()

	b := newPMCBackend(types.DownloadConfig{
		HTTPConfig: types.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "test/0.1"},
		PMCBaseURL: ts.URL,
	})

	candidates := []types.StudyCandidate{{PMCID: "PMC1"}, {PMCID: "PMC2"}}
	results, err := b.DownloadBatch(context.Background(), candidates)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.NoError(t, results[0].Err)
	assert.Equal(t, []byte("<article>one</article>"), results[0].Value.Body)
	assert.Equal(t, "pmc", results[0].Value.SourceName)

	require.Error(t, results[1].Err)
	assert.Contains(t, results[1].Err.Error(), "not open access")
}

func TestElsevierBackendSendsAPIKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-ELS-APIKey"))
		fmt.Fprint(w, `{"articles":[{"doi":"10.1/a","content_type":"text/xml","body":"<doc/>"}]}`)
	}))
	defer ts.Close()

	b := newElsevierBackend(types.DownloadConfig{
		HTTPConfig:      types.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "test/0.1"},
		ElsevierBaseURL: ts.URL,
		ElsevierAPIKey:  "secret",
	})

	results, err := b.DownloadBatch(context.Background(), []types.StudyCandidate{{DOI: "10.1/a"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "elsevier", results[0].Value.SourceName)
}

func TestPMCBackendLengthMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"documents":[]}`)
	}))
	defer ts.Close()

	b := newPMCBackend(types.DownloadConfig{
		HTTPConfig: types.HTTPConfig{Timeout: 5 * time.Second},
		PMCBaseURL: ts.URL,
	})

	_, err := b.DownloadBatch(context.Background(), []types.StudyCandidate{{PMCID: "PMC1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 documents for 1")
}
