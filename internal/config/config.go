package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	AI         AIConfig         `yaml:"ai" mapstructure:"ai"`
	Mail       MailConfig       `yaml:"mail" mapstructure:"mail"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// EngineConfig configures the campaign orchestrator.
type EngineConfig struct {
	BatchSize         int     `yaml:"batch_size" mapstructure:"batch_size"`
	Workers           int     `yaml:"workers" mapstructure:"workers"`
	MaxSendRetries    int     `yaml:"max_send_retries" mapstructure:"max_send_retries"`
	SendRatePerMinute float64 `yaml:"send_rate_per_minute" mapstructure:"send_rate_per_minute"`
	DefaultBudgetUSD  float64 `yaml:"default_budget_usd" mapstructure:"default_budget_usd"`
}

// DiscoveryConfig configures the business discovery provider.
type DiscoveryConfig struct {
	Provider      string  `yaml:"provider" mapstructure:"provider"`
	Key           string  `yaml:"key" mapstructure:"key"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize      int     `yaml:"page_size" mapstructure:"page_size"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RetryAttempts int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// DedupConfig configures duplicate-lead rejection.
type DedupConfig struct {
	// Scope is "campaign" or "global"; global also rejects leads already
	// known to any other campaign.
	Scope string `yaml:"scope" mapstructure:"scope"`
}

// EnrichmentConfig configures the enrichment capability sources.
type EnrichmentConfig struct {
	CompanyInfoKey      string `yaml:"company_info_key" mapstructure:"company_info_key"`
	CompanyInfoBaseURL  string `yaml:"company_info_base_url" mapstructure:"company_info_base_url"`
	SocialKey           string `yaml:"social_key" mapstructure:"social_key"`
	SocialBaseURL       string `yaml:"social_base_url" mapstructure:"social_base_url"`
	ContactKey          string `yaml:"contact_key" mapstructure:"contact_key"`
	ContactBaseURL      string `yaml:"contact_base_url" mapstructure:"contact_base_url"`
	CacheTTLMinutes     int    `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	CircuitThreshold    int    `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSeconds int    `yaml:"circuit_reset_seconds" mapstructure:"circuit_reset_seconds"`
}

// ScoringConfig configures the lead scoring policy.
type ScoringConfig struct {
	// PolicyPath optionally points at a yaml file overriding weights and
	// tier thresholds.
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
}

// AIConfig holds Anthropic API settings for the personalization pass.
type AIConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Model     string  `yaml:"model" mapstructure:"model"`
	MaxTokens int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MailConfig holds the email delivery gateway settings.
type MailConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	FromName  string `yaml:"from_name" mapstructure:"from_name"`
	FromEmail string `yaml:"from_email" mapstructure:"from_email"`
}

// EventsConfig configures the delivery-event queue consumer.
type EventsConfig struct {
	AMQPURL string `yaml:"amqp_url" mapstructure:"amqp_url"`
	Queue   string `yaml:"queue" mapstructure:"queue"`
}

// SalesforceConfig holds CRM sync credentials.
type SalesforceConfig struct {
	Domain         string `yaml:"domain" mapstructure:"domain"`
	Username       string `yaml:"username" mapstructure:"username"`
	Password       string `yaml:"password" mapstructure:"password"`
	ConsumerKey    string `yaml:"consumer_key" mapstructure:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret" mapstructure:"consumer_secret"`
	SecurityToken  string `yaml:"security_token" mapstructure:"security_token"`
}

// PricingConfig holds per-provider cost rates for the usage ledger.
type PricingConfig struct {
	DiscoveryPerCall  float64 `yaml:"discovery_per_call" mapstructure:"discovery_per_call"`
	EnrichmentPerCall float64 `yaml:"enrichment_per_call" mapstructure:"enrichment_per_call"`
	EmailPerSend      float64 `yaml:"email_per_send" mapstructure:"email_per_send"`
	AIInputPerMTok    float64 `yaml:"ai_input_per_mtok" mapstructure:"ai_input_per_mtok"`
	AIOutputPerMTok   float64 `yaml:"ai_output_per_mtok" mapstructure:"ai_output_per_mtok"`
}

// ServerConfig configures the HTTP API server.
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
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("engine.batch_size", 20)
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.max_send_retries", 3)
	v.SetDefault("engine.send_rate_per_minute", 30)
	v.SetDefault("engine.default_budget_usd", 25.0)
	v.SetDefault("discovery.provider", "places")
	v.SetDefault("discovery.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("discovery.page_size", 20)
	v.SetDefault("discovery.rate_limit", 10)
	v.SetDefault("discovery.retry_attempts", 3)
	v.SetDefault("dedup.scope", "global")
	v.SetDefault("enrichment.cache_ttl_minutes", 60)
	v.SetDefault("enrichment.circuit_threshold", 5)
	v.SetDefault("enrichment.circuit_reset_seconds", 30)
	v.SetDefault("ai.model", "claude-haiku-4-5-20251001")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.rate_limit", 5)
	v.SetDefault("mail.base_url", "https://api.mailgate.example.com/v3")
	v.SetDefault("events.queue", "outreach.delivery-events")
	v.SetDefault("pricing.discovery_per_call", 0.032)
	v.SetDefault("pricing.enrichment_per_call", 0.01)
	v.SetDefault("pricing.email_per_send", 0.001)
	v.SetDefault("pricing.ai_input_per_mtok", 0.80)
	v.SetDefault("pricing.ai_output_per_mtok", 4.00)

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
