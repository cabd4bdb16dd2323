package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Delivery  DeliveryConfig  `yaml:"delivery" mapstructure:"delivery"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	ExtractModel string `yaml:"extract_model" mapstructure:"extract_model"`
	MapModel     string `yaml:"map_model" mapstructure:"map_model"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// Timeout returns the per-call model timeout.
func (c AnthropicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// IngestConfig configures document fetch and text extraction.
type IngestConfig struct {
	FetchTimeoutSecs int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	MaxDocumentBytes int64   `yaml:"max_document_bytes" mapstructure:"max_document_bytes"`
	TextBudgetChars  int     `yaml:"text_budget_chars" mapstructure:"text_budget_chars"`
	MaxConcurrent    int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	FetchesPerSecond float64 `yaml:"fetches_per_second" mapstructure:"fetches_per_second"`
}

// FetchTimeout returns the per-document fetch timeout.
func (c IngestConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// PipelineConfig configures job claiming and pricing policy.
type PipelineConfig struct {
	StalenessMins  int     `yaml:"staleness_mins" mapstructure:"staleness_mins"`
	ShortlistCap   int     `yaml:"shortlist_cap" mapstructure:"shortlist_cap"`
	DefaultTaxRate float64 `yaml:"default_tax_rate" mapstructure:"default_tax_rate"`
	TripFeeCode    string  `yaml:"trip_fee_code" mapstructure:"trip_fee_code"`
}

// Staleness returns the threshold after which an in-progress job may be
// reclaimed by another invocation.
func (c PipelineConfig) Staleness() time.Duration {
	return time.Duration(c.StalenessMins) * time.Minute
}

// DeliveryConfig configures the outbound email collaborator.
type DeliveryConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Key              string `yaml:"key" mapstructure:"key"`
	FromAddress      string `yaml:"from_address" mapstructure:"from_address"`
	OversightAddress string `yaml:"oversight_address" mapstructure:"oversight_address"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the delivery request timeout.
func (c DeliveryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ServerConfig configures the read-only ops server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("ESTIMATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.map_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("ingest.fetch_timeout_secs", 30)
	v.SetDefault("ingest.max_document_bytes", 20*1024*1024)
	v.SetDefault("ingest.text_budget_chars", 35000)
	v.SetDefault("ingest.max_concurrent", 4)
	v.SetDefault("ingest.fetches_per_second", 2.0)
	v.SetDefault("pipeline.staleness_mins", 20)
	v.SetDefault("pipeline.shortlist_cap", 600)
	v.SetDefault("pipeline.default_tax_rate", 0.0825)
	v.SetDefault("pipeline.trip_fee_code", "TRIPFEE")
	v.SetDefault("delivery.timeout_secs", 15)
	v.SetDefault("server.port", 8080)
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with. Credentials
// are checked by the commands that need them, not here, so read-only
// commands work without a full secret set.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Anthropic.TimeoutSecs <= 0 {
		return eris.New("config: anthropic.timeout_secs must be positive")
	}
	if c.Ingest.FetchTimeoutSecs <= 0 {
		return eris.New("config: ingest.fetch_timeout_secs must be positive")
	}
	if c.Ingest.TextBudgetChars <= 0 {
		return eris.New("config: ingest.text_budget_chars must be positive")
	}
	if c.Pipeline.StalenessMins <= 0 {
		return eris.New("config: pipeline.staleness_mins must be positive")
	}
	if c.Pipeline.ShortlistCap <= 0 {
		return eris.New("config: pipeline.shortlist_cap must be positive")
	}
	if c.Pipeline.DefaultTaxRate < 0 || c.Pipeline.DefaultTaxRate >= 1 {
		return eris.New("config: pipeline.default_tax_rate must be a fraction in [0, 1)")
	}
	if c.Pipeline.TripFeeCode == "" {
		return eris.New("config: pipeline.trip_fee_code must be set")
	}
	// Estimates go to the customer plus the fixed internal oversight copy,
	// so a delivery setup missing either address is misconfigured.
	if c.Delivery.Key != "" {
		if c.Delivery.FromAddress == "" {
			return eris.New("config: delivery.from_address must be set when delivery.key is set")
		}
		if c.Delivery.OversightAddress == "" {
			return eris.New("config: delivery.oversight_address must be set when delivery.key is set")
		}
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
