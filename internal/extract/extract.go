// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract is the client for the table-extraction service, which
// pulls structured results tables out of raw documents. The extraction
// algorithm itself is a black box behind a batch endpoint.
package extract

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

// Client calls the extraction service.
type Client struct {
	cfg    types.ExtractionConfig
	client *http.Client
}

// NewClient builds an extraction client from config.
func NewClient(cfg types.ExtractionConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type extractRequest struct {
	Documents []extractDocument `json:"documents"`
}

type extractDocument struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

type extractResponse struct {
	Results []extractResult `json:"results"`
}

type extractResult struct {
	Tables []types.ExtractedTable `json:"tables"`
	Error  string                 `json:"error,omitempty"`
}

// ExtractBatch submits one chunk of documents and returns a table set per
// document, positionally aligned. A document the service could not parse is
// a per-item error; so is a document that yields no tables at all, since
// there is nothing downstream to analyze.
func (c *Client) ExtractBatch(ctx context.Context, docs []types.RawDocument) ([]batch.Result[types.TableSet], error) {
	req := extractRequest{Documents: make([]extractDocument, len(docs))}
	for i, d := range docs {
		req.Documents[i] = extractDocument{
			ID:          d.Candidate.HashID(),
			ContentType: d.ContentType,
			Body:        string(d.Body),
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding extract request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/extract/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating extract request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)

	httpResp, err := httputil.DoWithRetry(ctx, c.client, httpReq, 0)
	if err != nil {
		return nil, fmt.Errorf("extract request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction service returned HTTP %d", httpResp.StatusCode)
	}

	var resp extractResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("parsing extract response: %w", err)
	}
	if len(resp.Results) != len(docs) {
		return nil, fmt.Errorf("extraction service returned %d results for %d documents", len(resp.Results), len(docs))
	}

	results := make([]batch.Result[types.TableSet], len(docs))
	for i, r := range resp.Results {
		if r.Error != "" {
			results[i] = batch.Fail[types.TableSet](errors.New(r.Error))
			continue
		}
		if len(r.Tables) == 0 {
			results[i] = batch.Fail[types.TableSet](errors.New("no tables found"))
			continue
		}
		results[i] = batch.Ok(types.TableSet{
			Candidate: docs[i].Candidate,
			Tables:    r.Tables,
		})
	}
	return results, nil
}
