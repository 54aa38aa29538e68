// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package analyze is the client for the coordinate-parsing service, which
// turns extracted results tables into structured analyses. The parsing
// heuristics live behind the service; this client validates what comes
// back: points must carry exactly three numeric coordinates, and a
// candidate whose analyses all come back empty is a per-item failure.
package analyze

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

// Client calls the coordinate-parsing service.
type Client struct {
	cfg    types.AnalysisConfig
	client *http.Client
}

// NewClient builds an analysis client from config.
func NewClient(cfg types.AnalysisConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type analyzeRequest struct {
	Model     string           `json:"model,omitempty"`
	TableSets []types.TableSet `json:"table_sets"`
}

type analyzeResponse struct {
	Results []analyzeResult `json:"results"`
}

type analyzeResult struct {
	Analyses []types.Analysis `json:"analyses"`
	Error    string           `json:"error,omitempty"`
}

// AnalyzeBatch submits one chunk of table sets and returns an analysis set
// per input, positionally aligned.
func (c *Client) AnalyzeBatch(ctx context.Context, sets []types.TableSet) ([]batch.Result[types.AnalysisSet], error) {
	req := analyzeRequest{Model: c.cfg.Model, TableSets: sets}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/parse/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)

	httpResp, err := httputil.DoWithRetry(ctx, c.client, httpReq, 0)
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("parsing service returned HTTP %d", httpResp.StatusCode)
	}

	var resp analyzeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("parsing analyze response: %w", err)
	}
	if len(resp.Results) != len(sets) {
		return nil, fmt.Errorf("parsing service returned %d results for %d table sets", len(resp.Results), len(sets))
	}

	results := make([]batch.Result[types.AnalysisSet], len(sets))
	for i, r := range resp.Results {
		if r.Error != "" {
			results[i] = batch.Fail[types.AnalysisSet](errors.New(r.Error))
			continue
		}
		analyses := validAnalyses(r.Analyses)
		if len(analyses) == 0 {
			results[i] = batch.Fail[types.AnalysisSet](errors.New("no analyses with valid coordinates"))
			continue
		}
		results[i] = batch.Ok(types.AnalysisSet{
			Candidate: sets[i].Candidate,
			Analyses:  analyses,
		})
	}
	return results, nil
}

// validAnalyses drops points without exactly three coordinates, then drops
// analyses left with no points at all.
func validAnalyses(analyses []types.Analysis) []types.Analysis {
	var kept []types.Analysis
	for _, a := range analyses {
		var points []types.Point
		for _, p := range a.Points {
			if len(p.Coordinates) == 3 {
				points = append(points, p)
			}
		}
		if len(points) == 0 {
			continue
		}
		a.Points = points
		kept = append(kept, a)
	}
	return kept
}
