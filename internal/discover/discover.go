// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package discover finds newly published study candidates through a
// PubMed-style search API and expands each hit with its PMC and DOI
// identifiers so later stages can pick a download source.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/neurostuff/ingest-engine/internal/httputil"
	"github.com/neurostuff/ingest-engine/pkg/types"
)

const (
	defaultPageSize   = 200
	defaultMaxResults = 1000
	sourceName        = "pubmed"
)

// Query is one discovery window.
type Query struct {
	// Term is the search expression (e.g. "fmri AND coordinates").
	Term string

	// From and To bound the publication date window. Zero values leave the
	// corresponding side open.
	From time.Time
	To   time.Time
}

// Client queries the discovery service.
type Client struct {
	cfg    types.DiscoveryConfig
	client *http.Client
}

// NewClient builds a discovery client from config.
func NewClient(cfg types.DiscoveryConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// esearch JSON structures.
type esearchResponse struct {
	Result esearchResult `json:"esearchresult"`
}

type esearchResult struct {
	Count  string   `json:"count"`
	IDList []string `json:"idlist"`
}

// esummary JSON structures. The result object maps each uid to its summary.
type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

type esummaryDoc struct {
	Title       string             `json:"title"`
	FullJournal string             `json:"fulljournalname"`
	PubDate     string             `json:"pubdate"`
	ArticleIDs  []esummaryArticleID `json:"articleids"`
}

type esummaryArticleID struct {
	IDType string `json:"idtype"`
	Value  string `json:"value"`
}

// Find runs one query window and returns the discovered candidates in the
// order the search reports them. Results are paged; paging stops at the
// configured MaxResults or the reported total, whichever comes first.
func (c *Client) Find(ctx context.Context, q Query) ([]types.StudyCandidate, error) {
	if strings.TrimSpace(q.Term) == "" {
		return nil, fmt.Errorf("discovery query term is empty")
	}

	maxResults := c.cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	pageSize := c.cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var pmids []string
	for start := 0; start < maxResults; start += pageSize {
		page, total, err := c.searchPage(ctx, q, start, pageSize)
		if err != nil {
			return nil, err
		}
		pmids = append(pmids, page...)
		if start+pageSize >= total || len(page) == 0 {
			break
		}
	}
	if len(pmids) > maxResults {
		pmids = pmids[:maxResults]
	}
	if len(pmids) == 0 {
		return nil, nil
	}

	return c.summaries(ctx, pmids)
}

// searchPage fetches one esearch page and returns its pmids and the total
// hit count.
func (c *Client) searchPage(ctx context.Context, q Query, start, size int) ([]string, int, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("retmode", "json")
	params.Set("term", q.Term)
	params.Set("retstart", strconv.Itoa(start))
	params.Set("retmax", strconv.Itoa(size))
	if !q.From.IsZero() {
		params.Set("mindate", q.From.Format("2006/01/02"))
		params.Set("datetype", "pdat")
	}
	if !q.To.IsZero() {
		params.Set("maxdate", q.To.Format("2006/01/02"))
		params.Set("datetype", "pdat")
	}
	if c.cfg.APIKey != "" {
		params.Set("api_key", c.cfg.APIKey)
	}

	var body esearchResponse
	if err := c.getJSON(ctx, c.cfg.BaseURL+"/esearch.fcgi", params, &body); err != nil {
		return nil, 0, fmt.Errorf("discovery search: %w", err)
	}

	total, err := strconv.Atoi(body.Result.Count)
	if err != nil {
		return nil, 0, fmt.Errorf("discovery search: bad count %q", body.Result.Count)
	}
	return body.Result.IDList, total, nil
}

// summaries expands pmids into full candidates via one esummary call.
func (c *Client) summaries(ctx context.Context, pmids []string) ([]types.StudyCandidate, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("retmode", "json")
	params.Set("id", strings.Join(pmids, ","))
	if c.cfg.APIKey != "" {
		params.Set("api_key", c.cfg.APIKey)
	}

	var body esummaryResponse
	if err := c.getJSON(ctx, c.cfg.BaseURL+"/esummary.fcgi", params, &body); err != nil {
		return nil, fmt.Errorf("discovery summaries: %w", err)
	}

	candidates := make([]types.StudyCandidate, 0, len(pmids))
	for _, pmid := range pmids {
		raw, ok := body.Result[pmid]
		if !ok {
			candidates = append(candidates, types.StudyCandidate{PMID: pmid, Source: sourceName})
			continue
		}
		var doc esummaryDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			candidates = append(candidates, types.StudyCandidate{PMID: pmid, Source: sourceName})
			continue
		}

		candidate := types.StudyCandidate{
			PMID:    pmid,
			Title:   strings.TrimSpace(doc.Title),
			Journal: doc.FullJournal,
			Source:  sourceName,
		}
		if len(doc.PubDate) >= 4 {
			if year, err := strconv.Atoi(doc.PubDate[:4]); err == nil {
				candidate.Year = year
			}
		}
		for _, id := range doc.ArticleIDs {
			switch id.IDType {
			case "pmc", "pmcid":
				candidate.PMCID = strings.TrimSpace(id.Value)
			case "doi":
				candidate.DOI = strings.TrimSpace(id.Value)
			}
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, c.client, req, 0)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, endpoint)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
