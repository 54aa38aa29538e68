// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"time"

	"github.com/spf13/viper"

	"github.com/neurostuff/ingest-engine/pkg/types"
)

const defaultUserAgent = "ingest-engine/0.1"

func init() {
	viper.SetDefault("http.timeout", 60*time.Second)

	viper.SetDefault("discovery.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	viper.SetDefault("discovery.max_results", 1000)
	viper.SetDefault("discovery.page_size", 200)

	viper.SetDefault("download.sources", []string{"pmc"})
	viper.SetDefault("download.pmc_base_url", "https://pmc-fulltext.neurostuff.org")
	viper.SetDefault("download.elsevier_base_url", "https://api.elsevier.com/content")

	viper.SetDefault("extraction.base_url", "http://localhost:8071")
	viper.SetDefault("analysis.base_url", "http://localhost:8072")
	viper.SetDefault("upload.base_url", "https://neurostore.org")
	viper.SetDefault("sync.base_url", "https://pond.neurostuff.org")

	viper.SetDefault("tracker.db_path", "data/tracker.db")
	viper.SetDefault("tracker.retry_limit", 3)
	viper.SetDefault("mappings.db_path", "data/mappings.db")
	viper.SetDefault("cache_dir", "data/cache")
}

// batchConfig reads the chunking settings for one stage, falling back to
// the executor defaults when unset.
func batchConfig(prefix string) types.BatchConfig {
	return types.BatchConfig{
		BatchSize:   viper.GetInt(prefix + ".batch.size"),
		Concurrency: viper.GetInt(prefix + ".batch.concurrency"),
		MaxRetries:  viper.GetInt(prefix + ".batch.max_retries"),
	}
}

// pipelineConfig assembles the full pipeline configuration from viper and
// loaded secrets. Config file values win over secrets for API keys.
func pipelineConfig() types.PipelineConfig {
	httpCfg := types.HTTPConfig{
		Timeout:   viper.GetDuration("http.timeout"),
		UserAgent: defaultUserAgent,
	}

	return types.PipelineConfig{
		Discovery: types.DiscoveryConfig{
			HTTPConfig: httpCfg,
			BaseURL:    viper.GetString("discovery.base_url"),
			APIKey:     secretDefault("pubmed-api-key", viper.GetString("discovery.api_key")),
			MaxResults: viper.GetInt("discovery.max_results"),
			PageSize:   viper.GetInt("discovery.page_size"),
		},
		Download: types.DownloadConfig{
			HTTPConfig:      httpCfg,
			Batch:           batchConfig("download"),
			Sources:         viper.GetStringSlice("download.sources"),
			PMCBaseURL:      viper.GetString("download.pmc_base_url"),
			ElsevierBaseURL: viper.GetString("download.elsevier_base_url"),
			ElsevierAPIKey:  secretDefault("elsevier-api-key", viper.GetString("download.elsevier_api_key")),
		},
		Extraction: types.ExtractionConfig{
			HTTPConfig: httpCfg,
			Batch:      batchConfig("extraction"),
			BaseURL:    viper.GetString("extraction.base_url"),
		},
		Analysis: types.AnalysisConfig{
			HTTPConfig: httpCfg,
			Batch:      batchConfig("analysis"),
			BaseURL:    viper.GetString("analysis.base_url"),
			Model:      viper.GetString("analysis.model"),
		},
		Upload: types.UploadConfig{
			HTTPConfig: httpCfg,
			Batch:      batchConfig("upload"),
			BaseURL:    viper.GetString("upload.base_url"),
			APIToken:   secretDefault("neurostore-api-token", viper.GetString("upload.api_token")),
		},
		Sync: types.SyncConfig{
			HTTPConfig: httpCfg,
			Batch:      batchConfig("sync"),
			BaseURL:    viper.GetString("sync.base_url"),
		},
		Tracker: types.TrackerConfig{
			DBPath:     viper.GetString("tracker.db_path"),
			RetryLimit: viper.GetInt("tracker.retry_limit"),
		},
		CacheDir:     viper.GetString("cache_dir"),
		ManifestPath: viper.GetString("manifest_path"),
	}
}
