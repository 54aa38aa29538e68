// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pond is the client for the ns-pond identifier service. For each
// neurostore id, ns-pond returns the pond id already bound to it or mints a
// new one. The reconciler compares the returned binding against the local
// mapping store.
package pond

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

// Client calls the ns-pond API.
type Client struct {
	cfg    types.SyncConfig
	client *http.Client
}

// NewClient builds an ns-pond client from config.
func NewClient(cfg types.SyncConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type lookupRequest struct {
	NeurostoreIDs []string `json:"neurostore_ids"`
}

type lookupResponse struct {
	Results []lookupResult `json:"results"`
}

type lookupResult struct {
	PondID string `json:"pond_id"`
	Error  string `json:"error,omitempty"`
}

// LookupOrCreateBatch resolves one pond id per neurostore id, positionally
// aligned. The same neurostore id always resolves to the same pond id on the
// ns-pond side.
func (c *Client) LookupOrCreateBatch(ctx context.Context, ids []types.NeurostoreStudyID) ([]batch.Result[types.PondID], error) {
	req := lookupRequest{NeurostoreIDs: make([]string, len(ids))}
	for i, id := range ids {
		req.NeurostoreIDs[i] = string(id)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding lookup request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/pond/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating lookup request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)

	httpResp, err := httputil.DoWithRetry(ctx, c.client, httpReq, 0)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ns-pond returned HTTP %d", httpResp.StatusCode)
	}

	var resp lookupResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("parsing lookup response: %w", err)
	}
	if len(resp.Results) != len(ids) {
		return nil, fmt.Errorf("ns-pond returned %d results for %d ids", len(resp.Results), len(ids))
	}

	results := make([]batch.Result[types.PondID], len(ids))
	for i, r := range resp.Results {
		if r.Error != "" {
			results[i] = batch.Fail[types.PondID](errors.New(r.Error))
			continue
		}
		if r.PondID == "" {
			results[i] = batch.Fail[types.PondID](errors.New("ns-pond returned an empty pond id"))
			continue
		}
		results[i] = batch.Ok(types.PondID(r.PondID))
	}
	return results, nil
}
