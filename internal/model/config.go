package model

import "time"

// Config is the central configuration for the planner. Defaults are
// defined once here and threaded through constructors; deep business
// logic never reads ambient environment.
type Config struct {
	HTTP   HTTPConfig   `yaml:"http" mapstructure:"http"`
	Cache  CacheConfig  `yaml:"cache" mapstructure:"cache"`
	NCBI   NCBIConfig   `yaml:"ncbi" mapstructure:"ncbi"`
	Oracle OracleConfig `yaml:"oracle" mapstructure:"oracle"`
	LLM    LLMConfig    `yaml:"llm" mapstructure:"llm"`
	Rules  RulesConfig  `yaml:"rules" mapstructure:"rules"`
	Trust  TrustConfig  `yaml:"trust" mapstructure:"trust"`
	Risk   RiskConfig   `yaml:"risk" mapstructure:"risk"`
	Design DesignConfig `yaml:"design" mapstructure:"design"`
	Output OutputConfig `yaml:"output" mapstructure:"output"`
}

// HTTPConfig covers all outbound literature calls.
type HTTPConfig struct {
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent  string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	RateLimit  float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	HTTPProxy  string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy string        `yaml:"https_proxy" mapstructure:"https_proxy"`
}

// CacheConfig controls the read-through cache for external HTTP calls.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// NCBIConfig identifies the process to NCBI E-utilities.
type NCBIConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	Email   string `yaml:"email" mapstructure:"email"`
	Tool    string `yaml:"tool" mapstructure:"tool"`
}

// OracleConfig locates the external statistical oracle.
type OracleConfig struct {
	RscriptPath string        `yaml:"rscript_path" mapstructure:"rscript_path"` // Empty: search PATH
	ScriptPath  string        `yaml:"script_path" mapstructure:"script_path"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LLMConfig configures the optional LLM extraction collaborator.
type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // openai or empty (disabled)
	Model    string `yaml:"model" mapstructure:"model"`
	APIKey   string `yaml:"-" mapstructure:"api_key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Timeout  int    `yaml:"timeout" mapstructure:"timeout"` // seconds
}

// RulesConfig locates the external rule tables. Absent or malformed
// files fall back to documented built-in defaults, never a crash.
type RulesConfig struct {
	Validation  string `yaml:"validation" mapstructure:"validation"`
	Design      string `yaml:"design" mapstructure:"design"`
	Variability string `yaml:"variability" mapstructure:"variability"`
	Regulatory  string `yaml:"regulatory" mapstructure:"regulatory"`
	Quality     string `yaml:"quality" mapstructure:"quality"`
}

// TrustConfig is the CV trust policy: when an unconfirmed CV may still
// feed deterministic sample size. The numeric values are tunable
// policy, not business rules.
type TrustConfig struct {
	AutoCVThreshold  float64  `yaml:"auto_cv_threshold" mapstructure:"auto_cv_threshold"`
	DoubtfulForbid   []string `yaml:"doubtful_forbid" mapstructure:"doubtful_forbid"`
	DoubtfulPrefix   string   `yaml:"doubtful_prefix" mapstructure:"doubtful_prefix"`
	PenaltyLLMReview float64  `yaml:"penalty_llm_review" mapstructure:"penalty_llm_review"`
}

// RiskConfig defaults for the Monte-Carlo sample size.
type RiskConfig struct {
	NSims        int    `yaml:"n_sims" mapstructure:"n_sims"`
	Distribution string `yaml:"distribution" mapstructure:"distribution"`
}

// DesignConfig defaults for design selection.
type DesignConfig struct {
	DefaultCV float64 `yaml:"default_cv" mapstructure:"default_cv"` // percent, used when no CV at all
}

// OutputConfig controls CLI output behavior.
type OutputConfig struct {
	Verbose  bool   `yaml:"verbose" mapstructure:"verbose"`
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:    20 * time.Second,
			UserAgent:  "beplan/0.1 (+https://github.com/ppiankov/beplan)",
			MaxRetries: 3,
			RateLimit:  3.0,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     time.Hour,
		},
		NCBI: NCBIConfig{
			BaseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			Tool:    "beplan",
		},
		Oracle: OracleConfig{
			ScriptPath: "r/powertost_runner.R",
			Timeout:    60 * time.Second,
		},
		LLM: LLMConfig{
			Provider: "", // Disabled by default
			Timeout:  30,
		},
		Rules: RulesConfig{
			Validation:  "rules/validation_rules.yaml",
			Design:      "rules/design_rules.yaml",
			Variability: "rules/variability_rules.yaml",
			Regulatory:  "rules/reg_rules.yaml",
			Quality:     "rules/quality_criteria.yaml",
		},
		Trust: TrustConfig{
			AutoCVThreshold:  0.85,
			DoubtfulForbid:   []string{"ambiguous_condition", "multiple_values_in_source"},
			DoubtfulPrefix:   "conflict_detected",
			PenaltyLLMReview: 0.15,
		},
		Risk: RiskConfig{
			NSims:        5000,
			Distribution: "triangular",
		},
		Design: DesignConfig{
			DefaultCV: 40.0,
		},
		Output: OutputConfig{
			LogLevel: "info",
		},
	}
}
