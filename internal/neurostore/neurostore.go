// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package neurostore is the client for the neurostore API. Studies are
// created or updated through the batch base-studies endpoint; neurostore
// assigns the base-study id returned per item.
package neurostore

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

// Client calls the neurostore API.
type Client struct {
	cfg    types.UploadConfig
	client *http.Client
}

// NewClient builds a neurostore client from config.
func NewClient(cfg types.UploadConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type uploadStudy struct {
	PMID     string           `json:"pmid,omitempty"`
	PMCID    string           `json:"pmcid,omitempty"`
	DOI      string           `json:"doi,omitempty"`
	Title    string           `json:"name,omitempty"`
	Journal  string           `json:"publication,omitempty"`
	Year     int              `json:"year,omitempty"`
	Analyses []types.Analysis `json:"analyses"`
}

type uploadRequest struct {
	Studies []uploadStudy `json:"studies"`
}

type uploadResponse struct {
	Results []uploadResult `json:"results"`
}

type uploadResult struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// UploadBatch creates or updates one base study per input, positionally
// aligned. Uploading the same candidate again updates the existing base
// study and returns the same id, so replays are safe.
func (c *Client) UploadBatch(ctx context.Context, uploads []types.StudyUpload) ([]batch.Result[types.NeurostoreStudyID], error) {
	req := uploadRequest{Studies: make([]uploadStudy, len(uploads))}
	for i, u := range uploads {
		req.Studies[i] = uploadStudy{
			PMID:     u.Candidate.PMID,
			PMCID:    u.Candidate.PMCID,
			DOI:      u.Candidate.DOI,
			Title:    u.Candidate.Title,
			Journal:  u.Candidate.Journal,
			Year:     u.Candidate.Year,
			Analyses: u.Analyses,
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding upload request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/base-studies/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	httpResp, err := httputil.DoWithRetry(ctx, c.client, httpReq, 0)
	if err != nil {
		return nil, fmt.Errorf("upload request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("neurostore returned HTTP %d", httpResp.StatusCode)
	}

	var resp uploadResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("parsing upload response: %w", err)
	}
	if len(resp.Results) != len(uploads) {
		return nil, fmt.Errorf("neurostore returned %d results for %d studies", len(resp.Results), len(uploads))
	}

	results := make([]batch.Result[types.NeurostoreStudyID], len(uploads))
	for i, r := range resp.Results {
		if r.Error != "" {
			results[i] = batch.Fail[types.NeurostoreStudyID](errors.New(r.Error))
			continue
		}
		if r.ID == "" {
			results[i] = batch.Fail[types.NeurostoreStudyID](errors.New("neurostore returned an empty study id"))
			continue
		}
		results[i] = batch.Ok(types.NeurostoreStudyID(r.ID))
	}
	return results, nil
}
