// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/neurostuff/ingest-engine/internal/batch"
	"github.com/neurostuff/ingest-engine/pkg/types"
)

// elsevierBackend fetches licensed full text from the Elsevier batch
// retrieval endpoint. It needs a DOI and an API key.
type elsevierBackend struct {
	baseURL   string
	apiKey    string
	userAgent string
	client    *http.Client
}

func newElsevierBackend(cfg types.DownloadConfig) *elsevierBackend {
	return &elsevierBackend{
		baseURL:   cfg.ElsevierBaseURL,
		apiKey:    cfg.ElsevierAPIKey,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (b *elsevierBackend) Name() string { return "elsevier" }

func (b *elsevierBackend) Supports(c types.StudyCandidate) bool {
	return c.DOI != ""
}

type elsevierBatchRequest struct {
	DOIs []string `json:"dois"`
}

type elsevierBatchResponse struct {
	Articles []elsevierArticle `json:"articles"`
}

type elsevierArticle struct {
	DOI         string `json:"doi"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
	Error       string `json:"error,omitempty"`
}

// DownloadBatch posts all DOIs in one authenticated request and aligns the
// returned articles with the input candidates.
func (b *elsevierBackend) DownloadBatch(ctx context.Context, candidates []types.StudyCandidate) ([]batch.Result[types.RawDocument], error) {
	req := elsevierBatchRequest{DOIs: make([]string, len(candidates))}
	for i, c := range candidates {
		req.DOIs[i] = c.DOI
	}

	headers := map[string]string{"X-ELS-APIKey": b.apiKey}
	var resp elsevierBatchResponse
	if err := postJSON(ctx, b.client, b.baseURL+"/article/batch", b.userAgent, headers, req, &resp); err != nil {
		return nil, fmt.Errorf("elsevier batch request: %w", err)
	}
	if len(resp.Articles) != len(candidates) {
		return nil, fmt.Errorf("elsevier returned %d articles for %d dois", len(resp.Articles), len(candidates))
	}

	results := make([]batch.Result[types.RawDocument], len(candidates))
	for i, art := range resp.Articles {
		if art.Error != "" {
			results[i] = batch.Fail[types.RawDocument](errors.New(art.Error))
			continue
		}
		results[i] = batch.Ok(types.RawDocument{
			Candidate:   candidates[i],
			SourceName:  b.Name(),
			ContentType: art.ContentType,
			Body:        []byte(art.Body),
		})
	}
	return results, nil
}
