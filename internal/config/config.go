package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Apify      ApifyConfig      `yaml:"apify" mapstructure:"apify"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Credential CredentialConfig `yaml:"credential" mapstructure:"credential"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                  int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins        []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedReturnOrigins  []string `yaml:"allowed_return_origins" mapstructure:"allowed_return_origins"`
	ReadHeaderTimeoutSecs int      `yaml:"read_header_timeout_secs" mapstructure:"read_header_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AuthConfig holds session and OAuth state signing settings.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	StateTTLSecs int    `yaml:"state_ttl_secs" mapstructure:"state_ttl_secs"`
}

// GoogleConfig holds the delegated mail credential's OAuth client and the
// mail API endpoint.
type GoogleConfig struct {
	ClientID      string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret  string   `yaml:"client_secret" mapstructure:"client_secret"`
	RedirectURL   string   `yaml:"redirect_url" mapstructure:"redirect_url"`
	Scopes        []string `yaml:"scopes" mapstructure:"scopes"`
	AuthURL       string   `yaml:"auth_url" mapstructure:"auth_url"`
	TokenURL      string   `yaml:"token_url" mapstructure:"token_url"`
	RevokeURL     string   `yaml:"revoke_url" mapstructure:"revoke_url"`
	GmailEndpoint string   `yaml:"gmail_endpoint" mapstructure:"gmail_endpoint"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ApifyConfig holds scraping platform settings.
type ApifyConfig struct {
	Token             string   `yaml:"token" mapstructure:"token"`
	BaseURL           string   `yaml:"base_url" mapstructure:"base_url"`
	JobsActor         string   `yaml:"jobs_actor" mapstructure:"jobs_actor"`
	JobsHosts         []string `yaml:"jobs_hosts" mapstructure:"jobs_hosts"`
	ProfileActor      string   `yaml:"profile_actor" mapstructure:"profile_actor"`
	RequestsPerSecond float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	PollTimeoutSecs   int      `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
}

// PipelineConfig sizes the worker pool and the dispatch stage.
type PipelineConfig struct {
	Workers           int `yaml:"workers" mapstructure:"workers"`
	QueueSize         int `yaml:"queue_size" mapstructure:"queue_size"`
	SweepIntervalSecs int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
	DispatchCap       int `yaml:"dispatch_cap" mapstructure:"dispatch_cap"`
	SendDelayMs       int `yaml:"send_delay_ms" mapstructure:"send_delay_ms"`
}

// CredentialConfig tunes token renewal.
type CredentialConfig struct {
	ExpiryLeewaySecs int `yaml:"expiry_leeway_secs" mapstructure:"expiry_leeway_secs"`
}

// EnrichConfig configures the profile lookup circuit breaker.
type EnrichConfig struct {
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// RetryConfig configures retries of transient provider errors.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// MonitoringConfig configures background health checks and alert delivery.
type MonitoringConfig struct {
	WebhookURL               string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold     float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	SendFailureRateThreshold float64 `yaml:"send_failure_rate_threshold" mapstructure:"send_failure_rate_threshold"`
	BacklogThreshold         int     `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
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
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allowed_return_origins", []string{})
	v.SetDefault("server.read_header_timeout_secs", 10)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.state_ttl_secs", 600)
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_url", "")
	v.SetDefault("google.scopes", []string{"https://www.googleapis.com/auth/gmail.send"})
	v.SetDefault("google.auth_url", "")
	v.SetDefault("google.token_url", "")
	v.SetDefault("google.revoke_url", "https://oauth2.googleapis.com/revoke")
	v.SetDefault("google.gmail_endpoint", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("apify.token", "")
	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("apify.jobs_actor", "")
	v.SetDefault("apify.jobs_hosts", []string{})
	v.SetDefault("apify.profile_actor", "")
	v.SetDefault("apify.requests_per_second", 2.0)
	v.SetDefault("apify.poll_timeout_secs", 300)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 64)
	v.SetDefault("pipeline.sweep_interval_secs", 10)
	v.SetDefault("pipeline.dispatch_cap", 3)
	v.SetDefault("pipeline.send_delay_ms", 1000)
	v.SetDefault("credential.expiry_leeway_secs", 60)
	v.SetDefault("enrich.breaker_threshold", 5)
	v.SetDefault("enrich.breaker_reset_secs", 30)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.send_failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.backlog_threshold", 0)

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

// Validate checks the keys a command mode needs. Modes: "serve", "run",
// "store".
func (c *Config) Validate(mode string) error {
	var errs []string
	required := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, key+" is required")
		}
	}

	switch mode {
	case "store":
	case "run", "serve":
		required("apify.token", c.Apify.Token)
		required("apify.jobs_actor", c.Apify.JobsActor)
		required("apify.profile_actor", c.Apify.ProfileActor)
		required("anthropic.key", c.Anthropic.Key)
		required("google.client_id", c.Google.ClientID)
		required("google.client_secret", c.Google.ClientSecret)
		if mode == "serve" {
			required("auth.jwt_secret", c.Auth.JWTSecret)
			required("google.redirect_url", c.Google.RedirectURL)
			if c.Server.Port <= 0 || c.Server.Port > 65535 {
				errs = append(errs, "server.port must be between 1 and 65535")
			}
			if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 64 {
				errs = append(errs, "pipeline.workers must be between 1 and 64")
			}
			if c.Pipeline.QueueSize < 1 || c.Pipeline.QueueSize > 1000 {
				errs = append(errs, "pipeline.queue_size must be between 1 and 1000")
			}
			if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
				errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
			}
			if c.Monitoring.SendFailureRateThreshold < 0 || c.Monitoring.SendFailureRateThreshold > 1 {
				errs = append(errs, "monitoring.send_failure_rate_threshold must be between 0 and 1")
			}
		}
		if c.Pipeline.DispatchCap < 0 {
			errs = append(errs, "pipeline.dispatch_cap must be >= 0")
		}
		if c.Pipeline.SendDelayMs < 0 {
			errs = append(errs, "pipeline.send_delay_ms must be >= 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		required("store.database_url", c.Store.DatabaseURL)
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

const mask = "****"

// Redacted returns a copy of c with secrets replaced, for display.
func (c *Config) Redacted() Config {
	out := *c
	redact := func(s *string) {
		if *s != "" {
			*s = mask
		}
	}
	redact(&out.Store.DatabaseURL)
	redact(&out.Auth.JWTSecret)
	redact(&out.Google.ClientSecret)
	redact(&out.Anthropic.Key)
	redact(&out.Apify.Token)
	return out
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
