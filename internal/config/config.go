package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/entity-resolver/internal/db"
	"github.com/sells-group/entity-resolver/internal/matcher"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/internal/similarity"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Matcher    MatcherConfig    `yaml:"matcher" mapstructure:"matcher"`
	Learning   LearningConfig   `yaml:"learning" mapstructure:"learning"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig    `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PoolConfig returns the Postgres pool sizing.
func (s StoreConfig) PoolConfig() *db.PoolConfig {
	return &db.PoolConfig{MaxConns: s.MaxConns, MinConns: s.MinConns}
}

// MatcherConfig tunes candidate scoring and ranking.
type MatcherConfig struct {
	MaxCandidates   int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	SimilarityFloor float64 `yaml:"similarity_floor" mapstructure:"similarity_floor"`
	TokenWeight     float64 `yaml:"token_weight" mapstructure:"token_weight"`
	EditWeight      float64 `yaml:"edit_weight" mapstructure:"edit_weight"`
	UsageBoost      float64 `yaml:"usage_boost" mapstructure:"usage_boost"`
	MaxUsageBoost   float64 `yaml:"max_usage_boost" mapstructure:"max_usage_boost"`
}

// Ranking returns the matcher ranking configuration.
func (m MatcherConfig) Ranking() matcher.Config {
	return matcher.Config{
		MaxCandidates:   m.MaxCandidates,
		SimilarityFloor: m.SimilarityFloor,
		UsageBoost:      m.UsageBoost,
		MaxUsageBoost:   m.MaxUsageBoost,
	}
}

// Weights returns the similarity blend.
func (m MatcherConfig) Weights() similarity.Weights {
	return similarity.Weights{Token: m.TokenWeight, Edit: m.EditWeight}
}

// LearningConfig configures feedback decay, promotion, and write retries.
type LearningConfig struct {
	PromotionThreshold int     `yaml:"promotion_threshold" mapstructure:"promotion_threshold"`
	DecayFactor        float64 `yaml:"decay_factor" mapstructure:"decay_factor"`
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoffMs     int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// Retry returns the conflict retry policy for counter writes.
func (l LearningConfig) Retry() resilience.RetryConfig {
	cfg := resilience.FromRetryConfig(l.MaxRetries, l.RetryBackoffMs, 0)
	cfg.OnRetry = resilience.RetryLogger("store", "counter upsert")
	return cfg
}

// BatchConfig configures resolve-batch.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	// Consecutive resolve failures that open the breaker, and how long it
	// stays open before probing the store again.
	BreakerFailures  int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Breaker returns the circuit breaker guarding resolve.
func (s ServerConfig) Breaker() resilience.CircuitBreakerConfig {
	return resilience.FromCircuitConfig(s.BreakerFailures, s.BreakerResetSecs)
}

// MonitoringConfig configures the decision-log alert checker run by serve.
type MonitoringConfig struct {
	Enabled                 bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs       int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours     int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CorrectionRateThreshold float64 `yaml:"correction_rate_threshold" mapstructure:"correction_rate_threshold"`
	ManualRateThreshold     float64 `yaml:"manual_rate_threshold" mapstructure:"manual_rate_threshold"`
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RESOLVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "resolver.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("matcher.max_candidates", 5)
	v.SetDefault("matcher.similarity_floor", 0.5)
	v.SetDefault("matcher.token_weight", 0.6)
	v.SetDefault("matcher.edit_weight", 0.4)
	v.SetDefault("matcher.usage_boost", 1.0)
	v.SetDefault("matcher.max_usage_boost", 5.0)
	v.SetDefault("learning.promotion_threshold", 3)
	v.SetDefault("learning.decay_factor", 0.75)
	v.SetDefault("learning.max_retries", 5)
	v.SetDefault("learning.retry_backoff_ms", 20)
	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 50.0)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("server.breaker_failures", 5)
	v.SetDefault("server.breaker_reset_secs", 30)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.correction_rate_threshold", 0.3)
	v.SetDefault("monitoring.manual_rate_threshold", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode is "serve"
// for the HTTP server or "cli" for everything else. All problems are
// reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	m := c.Matcher
	if m.MaxCandidates < 1 {
		problems = append(problems, "matcher.max_candidates must be >= 1")
	}
	if m.SimilarityFloor < 0 || m.SimilarityFloor > 1 {
		problems = append(problems, "matcher.similarity_floor must be between 0 and 1")
	}
	if m.TokenWeight < 0 || m.EditWeight < 0 || m.TokenWeight+m.EditWeight <= 0 {
		problems = append(problems, "matcher.token_weight and matcher.edit_weight must be >= 0 with a positive sum")
	}
	if m.UsageBoost < 0 || m.MaxUsageBoost < 0 {
		problems = append(problems, "matcher usage boosts must be >= 0")
	}

	l := c.Learning
	if l.PromotionThreshold < 1 {
		problems = append(problems, "learning.promotion_threshold must be >= 1")
	}
	if l.DecayFactor <= 0 || l.DecayFactor >= 1 {
		problems = append(problems, "learning.decay_factor must be strictly between 0 and 1")
	}
	if l.MaxRetries < 1 {
		problems = append(problems, "learning.max_retries must be >= 1")
	}

	switch mode {
	case "cli":
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 64 {
			problems = append(problems, "batch.concurrency must be between 1 and 64")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
			problems = append(problems, "server rate limits must be >= 0")
		}
		mon := c.Monitoring
		if mon.CorrectionRateThreshold < 0 || mon.CorrectionRateThreshold > 1 ||
			mon.ManualRateThreshold < 0 || mon.ManualRateThreshold > 1 {
			problems = append(problems, "monitoring rate thresholds must be between 0 and 1")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
