package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the environment
const EnvPrefix = "SOCTRIAGE"

// Supported enrichment providers and cache backends
const (
	ProviderVirusTotal = "virustotal"
	ProviderAbuseIPDB  = "abuseipdb"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// ErrMissingAPIKey is returned when live enrichment is configured without credentials
var ErrMissingAPIKey = errors.New("enrichment API key is required unless demo mode is enabled")

// Config holds all configuration for a triage run
type Config struct {
	// DemoMode replaces the live enrichment backend with a fixed reputation table
	DemoMode bool `mapstructure:"demo_mode"`
	// MaxFindingsPerRun caps how many findings one run processes
	MaxFindingsPerRun int `mapstructure:"max_findings_per_run" validate:"gte=1,lte=10000"`
	// EnrichmentConcurrency bounds outstanding backend lookups
	EnrichmentConcurrency int `mapstructure:"enrichment_concurrency" validate:"gte=1,lte=64"`
	// CacheTTLSeconds is how long successful lookups are reused
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds" validate:"gte=1"`
	LogLevel        string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	RiskThresholds struct {
		Investigate     float64 `mapstructure:"investigate" validate:"gte=0,lte=100"`
		ImmediateAction float64 `mapstructure:"immediate_action" validate:"gte=0,lte=100"`
	} `mapstructure:"risk_thresholds"`

	Scoring struct {
		SeverityWeight   float64 `mapstructure:"severity_weight" validate:"gte=0"`
		ReputationWeight float64 `mapstructure:"reputation_weight" validate:"gte=0"`
	} `mapstructure:"scoring"`

	Enrichment struct {
		Provider          string        `mapstructure:"provider" validate:"oneof=virustotal abuseipdb"`
		APIKey            string        `mapstructure:"api_key"`
		BaseURL           string        `mapstructure:"base_url" validate:"omitempty,url"`
		RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"gte=0"`
		RetryBackoff      time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
		RateLimitPause    time.Duration `mapstructure:"rate_limit_pause" validate:"gt=0"`
		MaxRateLimitWaits int           `mapstructure:"max_rate_limit_waits" validate:"gte=0"`
		LookupTimeout     time.Duration `mapstructure:"lookup_timeout" validate:"gt=0"`
		BatchTimeout      time.Duration `mapstructure:"batch_timeout" validate:"gt=0"`
		StubReputation    int           `mapstructure:"stub_reputation" validate:"gte=0,lte=100"`
		Breaker           struct {
			MaxFailures uint32        `mapstructure:"max_failures" validate:"gte=1"`
			OpenTimeout time.Duration `mapstructure:"open_timeout" validate:"gt=0"`
		} `mapstructure:"breaker"`
	} `mapstructure:"enrichment"`

	Cache struct {
		Backend string `mapstructure:"backend" validate:"oneof=memory redis"`
		Size    int    `mapstructure:"size" validate:"gte=1"`
		Redis   struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db" validate:"gte=0"`
			PoolSize int    `mapstructure:"pool_size" validate:"gte=0"`
		} `mapstructure:"redis"`
	} `mapstructure:"cache"`

	Extraction struct {
		// SchemaFile is an optional YAML file of extra per-type field schemas
		SchemaFile string `mapstructure:"schema_file"`
	} `mapstructure:"extraction"`

	Tracing struct {
		// Enabled logs a debug line per finished span of the run and of each lookup
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"tracing"`
}

// CacheTTL returns the cache lifetime as a duration
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

var configValidator = validator.New()

// Default returns the built-in configuration without reading any file or the environment
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("demo_mode", false)
	v.SetDefault("max_findings_per_run", 10)
	v.SetDefault("enrichment_concurrency", 4)
	v.SetDefault("cache_ttl_seconds", 3600)
	v.SetDefault("log_level", "info")

	v.SetDefault("risk_thresholds.investigate", 50.0)
	v.SetDefault("risk_thresholds.immediate_action", 70.0)

	v.SetDefault("scoring.severity_weight", 0.7)
	v.SetDefault("scoring.reputation_weight", 0.3)

	v.SetDefault("enrichment.provider", ProviderVirusTotal)
	v.SetDefault("enrichment.api_key", "")
	v.SetDefault("enrichment.base_url", "")
	v.SetDefault("enrichment.requests_per_minute", 0)
	v.SetDefault("enrichment.retry_backoff", 500*time.Millisecond)
	v.SetDefault("enrichment.rate_limit_pause", 60*time.Second)
	v.SetDefault("enrichment.max_rate_limit_waits", 3)
	v.SetDefault("enrichment.lookup_timeout", 10*time.Second)
	v.SetDefault("enrichment.batch_timeout", 2*time.Minute)
	v.SetDefault("enrichment.stub_reputation", 10)
	v.SetDefault("enrichment.breaker.max_failures", 5)
	v.SetDefault("enrichment.breaker.open_timeout", 60*time.Second)

	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.size", 10000)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 10)

	v.SetDefault("extraction.schema_file", "")

	v.SetDefault("tracing.enabled", false)
}

// loadFromEnv sets up environment variable loading. The unprefixed names are
// accepted for compatibility with existing deployments.
func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("demo_mode", "SOCTRIAGE_DEMO_MODE", "DEMO_MODE")
	_ = v.BindEnv("max_findings_per_run", "SOCTRIAGE_MAX_FINDINGS_PER_RUN", "MAX_FINDINGS_PER_RUN")
	_ = v.BindEnv("log_level", "SOCTRIAGE_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("enrichment.api_key", "SOCTRIAGE_ENRICHMENT_API_KEY", "VIRUSTOTAL_API_KEY")
}

// LoadConfig loads configuration from defaults, an optional YAML file, a .env
// file, the environment and overrides, in increasing order of precedence. An
// empty configFile searches ./config.yaml and ./config/config.yaml. Override
// keys use the dotted config names, e.g. "enrichment.provider".
func LoadConfig(configFile string, overrides map[string]interface{}) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	config.LogLevel = strings.ToLower(config.LogLevel)
	config.Enrichment.Provider = strings.ToLower(config.Enrichment.Provider)
	config.Cache.Backend = strings.ToLower(config.Cache.Backend)

	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// ValidateConfig checks field constraints and cross-field rules
func ValidateConfig(config *Config) error {
	if err := configValidator.Struct(config); err != nil {
		return err
	}

	if config.RiskThresholds.Investigate >= config.RiskThresholds.ImmediateAction {
		return fmt.Errorf("risk_thresholds.investigate (%.1f) must be below risk_thresholds.immediate_action (%.1f)",
			config.RiskThresholds.Investigate, config.RiskThresholds.ImmediateAction)
	}
	if config.Scoring.SeverityWeight+config.Scoring.ReputationWeight == 0 {
		return errors.New("scoring weights must not both be zero")
	}
	if !config.DemoMode && config.Enrichment.APIKey == "" {
		return ErrMissingAPIKey
	}
	if config.Cache.Backend == CacheRedis && config.Cache.Redis.Addr == "" {
		return errors.New("cache.redis.addr is required when cache.backend is redis")
	}
	if config.Extraction.SchemaFile != "" {
		if _, err := os.Stat(config.Extraction.SchemaFile); err != nil {
			return fmt.Errorf("extraction.schema_file: %w", err)
		}
	}
	return nil
}
