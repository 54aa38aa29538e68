package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout (also bounds one chunk call).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "ingest-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// BatchConfig bounds how a stage chunks and dispatches its batch calls.
// Different external services have different rate limits, so every stage
// carries its own copy.
type BatchConfig struct {
	// BatchSize is the maximum number of items per external call.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Concurrency is the maximum number of in-flight chunk calls.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MaxRetries is how many times a whole-chunk failure is retried
	// before its items are marked failed.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// DiscoveryConfig holds settings for the find stage.
type DiscoveryConfig struct {
	HTTPConfig `yaml:",inline"`

	// BaseURL is the discovery search endpoint.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey raises the discovery service rate limit when set.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxResults caps how many candidates one query window returns.
	MaxResults int `json:"max_results" yaml:"max_results"`

	// PageSize is the number of ids fetched per search page.
	PageSize int `json:"page_size" yaml:"page_size"`
}

// DownloadConfig holds settings for the download stage.
type DownloadConfig struct {
	HTTPConfig `yaml:",inline"`
	Batch      BatchConfig `json:"batch" yaml:"batch"`

	// Sources orders the download backends to try (e.g. ["pmc", "elsevier"]).
	Sources []string `json:"sources" yaml:"sources"`

	// PMCBaseURL is the PubMed Central full-text endpoint.
	PMCBaseURL string `json:"pmc_base_url" yaml:"pmc_base_url"`

	// ElsevierBaseURL is the Elsevier article retrieval endpoint.
	ElsevierBaseURL string `json:"elsevier_base_url" yaml:"elsevier_base_url"`

	// ElsevierAPIKey authenticates against the Elsevier API.
	ElsevierAPIKey string `json:"elsevier_api_key,omitempty" yaml:"elsevier_api_key,omitempty"`
}

// ExtractionConfig holds settings for the extract stage.
type ExtractionConfig struct {
	HTTPConfig `yaml:",inline"`
	Batch      BatchConfig `json:"batch" yaml:"batch"`

	// BaseURL is the table-extraction service endpoint.
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// AnalysisConfig holds settings for the analyze stage.
type AnalysisConfig struct {
	HTTPConfig `yaml:",inline"`
	Batch      BatchConfig `json:"batch" yaml:"batch"`

	// BaseURL is the coordinate-parsing service endpoint.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Model selects the parsing model on the service side.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
}

// UploadConfig holds settings for the upload stage (neurostore).
type UploadConfig struct {
	HTTPConfig `yaml:",inline"`
	Batch      BatchConfig `json:"batch" yaml:"batch"`

	// BaseURL is the neurostore API root.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIToken is the neurostore bearer token.
	APIToken string `json:"api_token,omitempty" yaml:"api_token,omitempty"`
}

// SyncConfig holds settings for the sync stage (ns-pond reconciliation).
type SyncConfig struct {
	HTTPConfig `yaml:",inline"`
	Batch      BatchConfig `json:"batch" yaml:"batch"`

	// BaseURL is the ns-pond API root.
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// TrackerConfig holds settings for the pipeline state tracker.
type TrackerConfig struct {
	// DBPath is the SQLite database file for pipeline records and
	// identifier mappings.
	DBPath string `json:"db_path" yaml:"db_path"`

	// RetryLimit is how many failed attempts a candidate gets at one stage
	// before it transitions to failed-at-stage.
	RetryLimit int `json:"retry_limit" yaml:"retry_limit"`
}

// PipelineConfig groups all stage configurations for one pipeline run.
type PipelineConfig struct {
	Discovery  DiscoveryConfig  `json:"discovery" yaml:"discovery"`
	Download   DownloadConfig   `json:"download" yaml:"download"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	Analysis   AnalysisConfig   `json:"analysis" yaml:"analysis"`
	Upload     UploadConfig     `json:"upload" yaml:"upload"`
	Sync       SyncConfig       `json:"sync" yaml:"sync"`
	Tracker    TrackerConfig    `json:"tracker" yaml:"tracker"`

	// CacheDir is the directory for stage payload caches (documents,
	// table sets, analyses) keyed by candidate hash id.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// ManifestPath seeds candidates from a YAML manifest when the find
	// stage is not selected.
	ManifestPath string `json:"manifest_path,omitempty" yaml:"manifest_path,omitempty"`
}
