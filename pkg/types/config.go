package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "repurpose-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// SearchConfig holds settings for the discovery stage.
type SearchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// MaxResultsPerSource bounds each backend's result list (default 100).
	MaxResultsPerSource int `json:"max_results_per_source" yaml:"max_results_per_source" mapstructure:"max_results_per_source"`

	// MaxTotalPapers truncates the deduplicated list before filtering.
	// Zero disables the cap.
	MaxTotalPapers int `json:"max_total_papers" yaml:"max_total_papers" mapstructure:"max_total_papers"`

	// TitleKeyLength is the normalized-title prefix used for dedup (default 100).
	TitleKeyLength int `json:"title_key_length" yaml:"title_key_length" mapstructure:"title_key_length"`

	EnablePubMed          bool `json:"enable_pubmed" yaml:"enable_pubmed" mapstructure:"enable_pubmed"`
	EnableEuropePMC       bool `json:"enable_europepmc" yaml:"enable_europepmc" mapstructure:"enable_europepmc"`
	EnableSemanticScholar bool `json:"enable_semantic_scholar" yaml:"enable_semantic_scholar" mapstructure:"enable_semantic_scholar"`
	EnableOpenAlex        bool `json:"enable_openalex" yaml:"enable_openalex" mapstructure:"enable_openalex"`
	EnableCitationMining  bool `json:"enable_citation_mining" yaml:"enable_citation_mining" mapstructure:"enable_citation_mining"`

	NCBIAPIKey            string `json:"ncbi_api_key,omitempty" yaml:"ncbi_api_key,omitempty" mapstructure:"ncbi_api_key"`
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`
	OpenAlexEmail         string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`
}

// FilterConfig holds settings for the relevance filter.
type FilterConfig struct {
	// BatchSize is the number of papers per classification call (default 20).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// MaxConcurrent bounds in-flight classification batches (default 3).
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent" mapstructure:"max_concurrent"`

	// CheckpointEvery invokes the checkpoint callback every N batches (default 5).
	CheckpointEvery int `json:"checkpoint_every" yaml:"checkpoint_every" mapstructure:"checkpoint_every"`

	// CallTimeout bounds one classification call.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout" mapstructure:"call_timeout"`

	// SkipKeywordGate disables the keyword pre-filter.
	SkipKeywordGate bool `json:"skip_keyword_gate" yaml:"skip_keyword_gate" mapstructure:"skip_keyword_gate"`
}

// ReconcileConfig holds the n_patients implausibility thresholds.
type ReconcileConfig struct {
	// RatioThreshold is the minimum ratio between two counts that is
	// considered implausible (default 10).
	RatioThreshold float64 `json:"ratio_threshold" yaml:"ratio_threshold" mapstructure:"ratio_threshold"`

	// SmallValueCeiling is the exclusive upper bound for the smaller count
	// in an implausible pair (default 10).
	SmallValueCeiling int `json:"small_value_ceiling" yaml:"small_value_ceiling" mapstructure:"small_value_ceiling"`
}

// ExtractionConfig holds settings for the extraction stage.
type ExtractionConfig struct {
	// MaxConcurrent bounds in-flight extraction calls (default 4).
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent" mapstructure:"max_concurrent"`

	// InterCallDelay is the fixed delay between successive capability calls.
	InterCallDelay time.Duration `json:"inter_call_delay" yaml:"inter_call_delay" mapstructure:"inter_call_delay"`

	// CallTimeout bounds one capability call.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout" mapstructure:"call_timeout"`

	// MinFullTextChars is the full-text length that triggers multi-stage extraction.
	MinFullTextChars int `json:"min_full_text_chars" yaml:"min_full_text_chars" mapstructure:"min_full_text_chars"`

	// MaxRetries is the number of retries per capability call (default 2).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile" mapstructure:"reconcile"`
}

// AIConfig selects and configures the extraction/classification capability.
type AIConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the model identifier passed to the provider.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the provider.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxTokens caps each response.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ScoringConfig holds the ranking weights and data files.
type ScoringConfig struct {
	ClinicalWeight float64 `json:"clinical_weight" yaml:"clinical_weight" mapstructure:"clinical_weight"`
	EvidenceWeight float64 `json:"evidence_weight" yaml:"evidence_weight" mapstructure:"evidence_weight"`
	MarketWeight   float64 `json:"market_weight" yaml:"market_weight" mapstructure:"market_weight"`

	// PreprintPenalty multiplies the evidence score of preprints (default 0.85).
	PreprintPenalty float64 `json:"preprint_penalty" yaml:"preprint_penalty" mapstructure:"preprint_penalty"`

	// MarketDataPath optionally points at a YAML market context book.
	MarketDataPath string `json:"market_data_path,omitempty" yaml:"market_data_path,omitempty" mapstructure:"market_data_path"`

	// TaxonomyPath optionally replaces the built-in disease taxonomy.
	TaxonomyPath string `json:"taxonomy_path,omitempty" yaml:"taxonomy_path,omitempty" mapstructure:"taxonomy_path"`
}

// StoreConfig locates the persistence store.
type StoreConfig struct {
	// DataDir holds the SQLite database and exports.
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
}

// BatchConfig bounds multi-drug runs.
type BatchConfig struct {
	// MaxConcurrentDrugs bounds the number of drug pipelines run in parallel.
	MaxConcurrentDrugs int `json:"max_concurrent_drugs" yaml:"max_concurrent_drugs" mapstructure:"max_concurrent_drugs"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Search     SearchConfig     `json:"search" yaml:"search" mapstructure:"search"`
	Filter     FilterConfig     `json:"filter" yaml:"filter" mapstructure:"filter"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction" mapstructure:"extraction"`
	AI         AIConfig         `json:"ai" yaml:"ai" mapstructure:"ai"`
	Scoring    ScoringConfig    `json:"scoring" yaml:"scoring" mapstructure:"scoring"`
	Store      StoreConfig      `json:"store" yaml:"store" mapstructure:"store"`
	Batch      BatchConfig      `json:"batch" yaml:"batch" mapstructure:"batch"`
	Log        LogConfig        `json:"log" yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// DefaultPipelineConfig returns the configuration used when no file or
// environment override is present.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Search: SearchConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   60 * time.Second,
				UserAgent: "repurpose-engine/0.1",
			},
			MaxResultsPerSource:   100,
			TitleKeyLength:        100,
			EnablePubMed:          true,
			EnableEuropePMC:       true,
			EnableSemanticScholar: true,
			EnableOpenAlex:        true,
			EnableCitationMining:  true,
		},
		Filter: FilterConfig{
			BatchSize:       20,
			MaxConcurrent:   3,
			CheckpointEvery: 5,
			CallTimeout:     90 * time.Second,
		},
		Extraction: ExtractionConfig{
			MaxConcurrent:    4,
			InterCallDelay:   500 * time.Millisecond,
			CallTimeout:      90 * time.Second,
			MinFullTextChars: 2000,
			MaxRetries:       2,
			Reconcile: ReconcileConfig{
				RatioThreshold:    10,
				SmallValueCeiling: 10,
			},
		},
		AI: AIConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 4096,
		},
		Scoring: ScoringConfig{
			ClinicalWeight:  0.40,
			EvidenceWeight:  0.35,
			MarketWeight:    0.25,
			PreprintPenalty: 0.85,
		},
		Store: StoreConfig{DataDir: "data"},
		Batch: BatchConfig{MaxConcurrentDrugs: 2},
		Log:   LogConfig{Level: "info", Format: "console"},
	}
}
