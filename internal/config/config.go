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
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Collector CollectorConfig `yaml:"collector" mapstructure:"collector"`
	Dirs      DirsConfig      `yaml:"dirs" mapstructure:"dirs"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings. RetryModel is used for the
// corrective second extraction attempt.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	RetryModel string `yaml:"retry_model" mapstructure:"retry_model"`
	MaxTokens  int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CollectorConfig configures evidence collection.
type CollectorConfig struct {
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	NetworkIdleMillis int    `yaml:"network_idle_millis" mapstructure:"network_idle_millis"`
	UserAgent         string `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec        int    `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	DisableBrowser    bool   `yaml:"disable_browser" mapstructure:"disable_browser"`
}

// DirsConfig holds the persisted output directories.
type DirsConfig struct {
	Evidence string `yaml:"evidence" mapstructure:"evidence"`
	Reports  string `yaml:"reports" mapstructure:"reports"`
	Logs     string `yaml:"logs" mapstructure:"logs"`
}

// PipelineConfig configures orchestration behavior.
type PipelineConfig struct {
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

// StoreConfig configures the run-history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
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
	v.SetEnvPrefix("COMPLIANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. The empty key default registers the key so AutomaticEnv
	// can populate it through Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.retry_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("collector.timeout_secs", 30)
	v.SetDefault("collector.network_idle_millis", 750)
	v.SetDefault("collector.user_agent", "Mozilla/5.0 (compatible; ComplianceBot/1.0)")
	v.SetDefault("collector.rate_per_sec", 2)
	v.SetDefault("collector.disable_browser", false)
	v.SetDefault("dirs.evidence", "evidence")
	v.SetDefault("dirs.reports", "reports")
	v.SetDefault("dirs.logs", "logs")
	v.SetDefault("pipeline.max_retries", 1)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "compliance.db")
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

// Validate checks configuration required before any run can start. A missing
// API credential is a fatal setup error, not a pipeline-run error.
func (c *Config) Validate() error {
	if c.Anthropic.Key == "" {
		return eris.New("config: anthropic.key is required (set COMPLIANCE_ANTHROPIC_KEY or anthropic.key in config.yaml)")
	}
	if c.Pipeline.MaxRetries < 0 {
		return eris.New("config: pipeline.max_retries must not be negative")
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
