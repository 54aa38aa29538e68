// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package neurostore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurostuff/ingest-engine/pkg/types"
)

func testUploads() []types.StudyUpload {
	return []types.StudyUpload{
		{
			Candidate: types.StudyCandidate{PMID: "100", Title: "Amygdala responses"},
			Analyses: []types.Analysis{
				{Name: "faces > shapes", Points: []types.Point{{Coordinates: []float64{-22, -4, -18}}}},
			},
		},
		{
			Candidate: types.StudyCandidate{PMID: "200", DOI: "10.1000/xyz", Title: "Working memory load"},
			Analyses: []types.Analysis{
				{Name: "2-back > 0-back", Points: []types.Point{{Coordinates: []float64{40, 30, 28}}}},
			},
		},
	}
}

func TestUploadBatchReturnsAssignedIDs(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/base-studies/batch", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var req uploadRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Studies, 2)
		assert.Equal(t, "100", req.Studies[0].PMID)
		assert.Equal(t, "10.1000/xyz", req.Studies[1].DOI)

		json.NewEncoder(w).Encode(uploadResponse{Results: []uploadResult{
			{ID: "ns-abc"},
			{ID: "ns-def"},
		}})
	}))
	defer server.Close()

	client := NewClient(types.UploadConfig{
		HTTPConfig: types.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "test"},
		BaseURL:    server.URL,
		APIToken:   "tok-123",
	})

	results, err := client.UploadBatch(context.Background(), testUploads())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, types.NeurostoreStudyID("ns-abc"), results[0].Value)
	assert.Equal(t, types.NeurostoreStudyID("ns-def"), results[1].Value)
}

func TestUploadBatchPartitionsPerItemErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(uploadResponse{Results: []uploadResult{
			{Error: "title is required"},
			{ID: "ns-def"},
		}})
	}))
	defer server.Close()

	client := NewClient(types.UploadConfig{BaseURL: server.URL})

	results, err := client.UploadBatch(context.Background(), testUploads())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.EqualError(t, results[0].Err, "title is required")
	assert.NoError(t, results[1].Err)
}

func TestUploadBatchEmptyIDIsPerItemError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(uploadResponse{Results: []uploadResult{
			{ID: "ns-abc"},
			{},
		}})
	}))
	defer server.Close()

	client := NewClient(types.UploadConfig{BaseURL: server.URL})

	results, err := client.UploadBatch(context.Background(), testUploads())
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.ErrorContains(t, results[1].Err, "empty study id")
}

func TestUploadBatchServerErrorFailsWholeChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(types.UploadConfig{BaseURL: server.URL})

	_, err := client.UploadBatch(context.Background(), testUploads())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestUploadBatchLengthMismatchIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(uploadResponse{Results: []uploadResult{{ID: "ns-abc"}}})
	}))
	defer server.Close()

	client := NewClient(types.UploadConfig{BaseURL: server.URL})

	_, err := client.UploadBatch(context.Background(), testUploads())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 results for 2 studies")
}
