package config

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Blob         BlobConfig         `yaml:"blob" mapstructure:"blob"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Semantic     SemanticConfig     `yaml:"semantic" mapstructure:"semantic"`
	Detect       DetectConfig       `yaml:"detect" mapstructure:"detect"`
	Export       ExportConfig       `yaml:"export" mapstructure:"export"`
	Requirements RequirementsConfig `yaml:"requirements" mapstructure:"requirements"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BlobConfig configures where document packages are kept.
type BlobConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
	Region string `yaml:"region" mapstructure:"region"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SemanticConfig tunes the model-backed question extraction.
type SemanticConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxChars          int     `yaml:"max_chars" mapstructure:"max_chars"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BreakerFailures   int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// DetectConfig points at optional detection rule overrides.
type DetectConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// ExportConfig configures answer injection.
type ExportConfig struct {
	MissingAnswerText         string `yaml:"missing_answer_text" mapstructure:"missing_answer_text"`
	PreserveEmptyPlaceholders bool   `yaml:"preserve_empty_placeholders" mapstructure:"preserve_empty_placeholders"`
	ValidateBeforeExport      bool   `yaml:"validate_before_export" mapstructure:"validate_before_export"`
	PersistExports            bool   `yaml:"persist_exports" mapstructure:"persist_exports"`
}

// RequirementsConfig configures the requirement extraction job.
type RequirementsConfig struct {
	MaxChars      int `yaml:"max_chars" mapstructure:"max_chars"`
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("TENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "tender.db")
	v.SetDefault("blob.driver", "local")
	v.SetDefault("blob.dir", "data/blobs")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("semantic.timeout_secs", 90)
	v.SetDefault("semantic.max_chars", 60000)
	v.SetDefault("semantic.requests_per_second", 1.0)
	v.SetDefault("semantic.breaker_failures", 3)
	v.SetDefault("semantic.breaker_reset_secs", 60)
	v.SetDefault("detect.rules_path", "")
	v.SetDefault("export.missing_answer_text", "[Réponse manquante]")
	v.SetDefault("export.preserve_empty_placeholders", false)
	v.SetDefault("export.validate_before_export", true)
	v.SetDefault("export.persist_exports", false)
	v.SetDefault("requirements.max_chars", 40000)
	v.SetDefault("requirements.retry_attempts", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the keys needed by mode are present. Modes match the
// CLI commands: parse, export, validate, requirements, jobs, serve.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "parse", "export", "validate", "requirements", "jobs", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []string

	switch c.Store.Driver {
	case "sqlite", "":
	case "postgres", "postgresql":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}

	if mode != "jobs" {
		switch c.Blob.Driver {
		case "local", "":
			if c.Blob.Dir == "" {
				errs = append(errs, "blob.dir is required for the local driver")
			}
		case "s3":
			if c.Blob.Bucket == "" {
				errs = append(errs, "blob.bucket is required for the s3 driver")
			}
		default:
			errs = append(errs, "blob.driver must be local or s3")
		}
	}

	switch mode {
	case "requirements", "serve":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
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
