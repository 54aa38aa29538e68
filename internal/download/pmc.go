// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package download

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/neurostuff/ingest-engine/internal/batch"
	"github.com/neurostuff/ingest-engine/internal/httputil"
	"github.com/neurostuff/ingest-engine/pkg/types"
)

// pmcBackend fetches open-access full text from the PMC batch endpoint.
// It needs a PMCID.
type pmcBackend struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func newPMCBackend(cfg types.DownloadConfig) *pmcBackend {
	return &pmcBackend{
		baseURL:   cfg.PMCBaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (b *pmcBackend) Name() string { return "pmc" }

func (b *pmcBackend) Supports(c types.StudyCandidate) bool {
	return c.PMCID != ""
}

type pmcBatchRequest struct {
	PMCIDs []string `json:"pmcids"`
}

type pmcBatchResponse struct {
	Documents []pmcDocument `json:"documents"`
}

type pmcDocument struct {
	PMCID       string `json:"pmcid"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
	Error       string `json:"error,omitempty"`
}

// DownloadBatch posts all pmcids in one request and aligns the returned
// documents with the input candidates.
func (b *pmcBackend) DownloadBatch(ctx context.Context, candidates []types.StudyCandidate) ([]batch.Result[types.RawDocument], error) {
	req := pmcBatchRequest{PMCIDs: make([]string, len(candidates))}
	for i, c := range candidates {
		req.PMCIDs[i] = c.PMCID
	}

	var resp pmcBatchResponse
	if err := postJSON(ctx, b.client, b.baseURL+"/fulltext/batch", b.userAgent, nil, req, &resp); err != nil {
		return nil, fmt.Errorf("pmc batch request: %w", err)
	}
	if len(resp.Documents) != len(candidates) {
		return nil, fmt.Errorf("pmc returned %d documents for %d pmcids", len(resp.Documents), len(candidates))
	}

	results := make([]batch.Result[types.RawDocument], len(candidates))
	for i, doc := range resp.Documents {
		if doc.Error != "" {
			results[i] = batch.Fail[types.RawDocument](errors.New(doc.Error))
			continue
		}
		results[i] = batch.Ok(types.RawDocument{
			Candidate:   candidates[i],
			SourceName:  b.Name(),
			ContentType: doc.ContentType,
			Body:        []byte(doc.Body),
		})
	}
	return results, nil
}

// postJSON sends one JSON batch request and decodes the JSON response,
// retrying rate limits and transient upstream errors.
func postJSON(ctx context.Context, client *http.Client, url, userAgent string, headers map[string]string, body, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
