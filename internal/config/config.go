// Package config holds the run configuration for the translation pipeline.
//
// Values come from, in increasing priority: built-in defaults, an optional
// config file, SUBTRAN_* environment variables, and CLI flags bound by the
// commands. All keys are flat and lower_snake_case.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration of a translation run.
type Config struct {
	// Transport target.
	APIKey    string `mapstructure:"api_key"`
	APIURL    string `mapstructure:"api_url"`
	ModelName string `mapstructure:"model_name"`

	// Concurrency and pacing.
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests"`
	RPMLimit              int `mapstructure:"rpm_limit"`
	BatchSize             int `mapstructure:"batch_size"`

	// Fault tolerance.
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// Glossary store.
	GlossaryDir        string `mapstructure:"glossary_dir"`
	GlossaryDBPath     string `mapstructure:"glossary_db_path"`
	LLMDiscoveryDBPath string `mapstructure:"llm_discovery_db_path"`
	EnableLLMDiscovery bool   `mapstructure:"enable_llm_discovery"`

	// Output shape and prompt selection.
	TargetLang string `mapstructure:"target_lang"`
	Bilingual  bool   `mapstructure:"bilingual"`

	// Stage temperatures.
	TempTerms   float64 `mapstructure:"temp_terms"`
	TempLiteral float64 `mapstructure:"temp_literal"`
	TempPolish  float64 `mapstructure:"temp_polish"`
}

// setDefaults registers the built-in defaults on a viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("api_url", "http://localhost:19183/v1/chat/completions")
	v.SetDefault("model_name", "openai/gpt-oss-20b")

	v.SetDefault("max_concurrent_requests", 4)
	v.SetDefault("rpm_limit", 60)
	v.SetDefault("batch_size", 8)

	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay", 2*time.Second)

	v.SetDefault("glossary_dir", "glossaries")
	v.SetDefault("glossary_db_path", "glossary_cache.db")
	v.SetDefault("llm_discovery_db_path", "llm_discovery.db")
	v.SetDefault("enable_llm_discovery", true)

	v.SetDefault("target_lang", "zh")
	v.SetDefault("bilingual", true)

	v.SetDefault("temp_terms", 0.1)
	v.SetDefault("temp_literal", 0.3)
	v.SetDefault("temp_polish", 0.5)
}

// New builds a viper instance with defaults, env binding and (optionally)
// a config file loaded. Commands bind their flags on top of this.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SUBTRAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// Load unmarshals and validates the configuration.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url must not be empty")
	}
	if c.MaxConcurrentRequests < 1 {
		return fmt.Errorf("max_concurrent_requests must be >= 1, got %d", c.MaxConcurrentRequests)
	}
	if c.RPMLimit < 1 {
		return fmt.Errorf("rpm_limit must be >= 1, got %d", c.RPMLimit)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries)
	}
	switch c.TargetLang {
	case "zh", "en":
	default:
		return fmt.Errorf("unsupported target_lang %q (want zh or en)", c.TargetLang)
	}
	return nil
}
