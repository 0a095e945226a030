package config

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/docsplit/internal/providers"
)

// Config holds docsplit configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Server     ServerCfg     `mapstructure:"server" yaml:"server"`
	Database   DatabaseCfg   `mapstructure:"database" yaml:"database"`
	Storage    StorageCfg    `mapstructure:"storage" yaml:"storage"`
	LlamaCloud LlamaCloudCfg `mapstructure:"llamacloud" yaml:"llamacloud"`
	Classifier ClassifierCfg `mapstructure:"classifier" yaml:"classifier"`
	Pipeline   PipelineCfg   `mapstructure:"pipeline" yaml:"pipeline"`
	Thresholds ThresholdsCfg `mapstructure:"thresholds" yaml:"thresholds"`
	Taxonomy   TaxonomyCfg   `mapstructure:"taxonomy" yaml:"taxonomy"`
}

// ServerCfg configures the HTTP listener.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// DatabaseCfg selects and configures the job store.
type DatabaseCfg struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "postgres" or "memory"
	// DSN wins over the individual connection fields when set.
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"` // supports ${ENV_VAR} syntax
	Name     string `mapstructure:"name" yaml:"name"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`

	MaxConns int32 `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns int32 `mapstructure:"min_conns" yaml:"min_conns"`

	// Managed starts a local Postgres container on serve.
	Managed   bool                 `mapstructure:"managed" yaml:"managed"`
	Container DatabaseContainerCfg `mapstructure:"container" yaml:"container"`
}

// DatabaseContainerCfg holds the local Postgres container settings.
type DatabaseContainerCfg struct {
	// Name is the Docker container name (default: derived from the home path)
	Name  string `mapstructure:"name" yaml:"name"`
	Image string `mapstructure:"image" yaml:"image"`
	Port  string `mapstructure:"port" yaml:"port"`
}

// StorageCfg configures object storage.
type StorageCfg struct {
	Driver            string `mapstructure:"driver" yaml:"driver"` // "s3" or "memory"
	Bucket            string `mapstructure:"bucket" yaml:"bucket"`
	Region            string `mapstructure:"region" yaml:"region"`
	Endpoint          string `mapstructure:"endpoint" yaml:"endpoint"` // MinIO and friends
	AccessKey         string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey         string `mapstructure:"secret_key" yaml:"secret_key"` // supports ${ENV_VAR} syntax
	PathStyle         bool   `mapstructure:"path_style" yaml:"path_style"`
	PresignTTLSeconds int    `mapstructure:"presign_ttl_seconds" yaml:"presign_ttl_seconds"`
}

// LlamaCloudCfg configures the split/classify service.
type LlamaCloudCfg struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per minute
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// ClassifierCfg picks the subtype classifier.
type ClassifierCfg struct {
	Provider string    `mapstructure:"provider" yaml:"provider"` // "llamacloud" or "openai"
	OpenAI   OpenAICfg `mapstructure:"openai" yaml:"openai"`
}

// OpenAICfg configures the OpenAI classifier.
type OpenAICfg struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	Model          string `mapstructure:"model" yaml:"model"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// PipelineCfg holds the process document tunables. These hot-reload.
type PipelineCfg struct {
	Concurrency                 int  `mapstructure:"concurrency" yaml:"concurrency"`
	RetryAttempts               int  `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBaseSeconds            int  `mapstructure:"retry_base_seconds" yaml:"retry_base_seconds"`
	RetryMaxSeconds             int  `mapstructure:"retry_max_seconds" yaml:"retry_max_seconds"`
	PageLimit                   int  `mapstructure:"page_limit" yaml:"page_limit"`
	SplitPollIntervalSeconds    int  `mapstructure:"split_poll_interval_seconds" yaml:"split_poll_interval_seconds"`
	SplitPollMaxIntervalSeconds int  `mapstructure:"split_poll_max_interval_seconds" yaml:"split_poll_max_interval_seconds"`
	SplitTimeoutSeconds         int  `mapstructure:"split_timeout_seconds" yaml:"split_timeout_seconds"`
	AllowPartial                bool `mapstructure:"allow_partial" yaml:"allow_partial"`
}

// ThresholdsCfg holds the confidence tier cut-offs.
type ThresholdsCfg struct {
	AutoAccept    float64 `mapstructure:"auto_accept" yaml:"auto_accept"`
	FlagForReview float64 `mapstructure:"flag_for_review" yaml:"flag_for_review"`
}

// TaxonomyCfg points at a taxonomy file. Empty uses the built-in one.
type TaxonomyCfg struct {
	File string `mapstructure:"file" yaml:"file"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Database: DatabaseCfg{
			Driver:   "postgres",
			Host:     "127.0.0.1",
			Port:     "5432",
			User:     "docsplit",
			Password: "${DOCSPLIT_DB_PASSWORD}",
			Name:     "docsplit",
			SSLMode:  "disable",
			MaxConns: 10,
			MinConns: 1,
			Managed:  true,
			Container: DatabaseContainerCfg{
				Image: "postgres:16-alpine",
				Port:  "5432",
			},
		},
		Storage: StorageCfg{
			Driver:            "s3",
			Bucket:            "docsplit",
			Region:            "us-east-1",
			AccessKey:         "${AWS_ACCESS_KEY_ID}",
			SecretKey:         "${AWS_SECRET_ACCESS_KEY}",
			PresignTTLSeconds: 900,
		},
		LlamaCloud: LlamaCloudCfg{
			APIKey:         "${LLAMA_CLOUD_API_KEY}",
			BaseURL:        providers.LlamaCloudBaseURL,
			TimeoutSeconds: 120,
			RateLimit:      120,
			MaxRetries:     3,
		},
		Classifier: ClassifierCfg{
			Provider: "llamacloud",
			OpenAI: OpenAICfg{
				APIKey:         "${OPENAI_API_KEY}",
				Model:          "gpt-4o-mini",
				TimeoutSeconds: 120,
				MaxRetries:     2,
			},
		},
		Pipeline: PipelineCfg{
			Concurrency:                 10,
			RetryAttempts:               5,
			RetryBaseSeconds:            1,
			RetryMaxSeconds:             30,
			PageLimit:                   10,
			SplitPollIntervalSeconds:    3,
			SplitPollMaxIntervalSeconds: 5,
			SplitTimeoutSeconds:         300,
		},
		Thresholds: ThresholdsCfg{
			AutoAccept:    0.85,
			FlagForReview: 0.60,
		},
	}
}

// Validate checks the values a server cannot start without.
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("database.driver must be postgres or memory, got %q", c.Database.Driver))
	}

	switch c.Storage.Driver {
	case "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, "storage.bucket is required for the s3 driver")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver must be s3 or memory, got %q", c.Storage.Driver))
	}
	if c.Storage.PresignTTLSeconds <= 0 {
		errs = append(errs, "storage.presign_ttl_seconds must be positive")
	}

	switch c.Classifier.Provider {
	case "llamacloud", "openai":
	default:
		errs = append(errs, fmt.Sprintf("classifier.provider must be llamacloud or openai, got %q", c.Classifier.Provider))
	}

	p := c.Pipeline
	if p.Concurrency <= 0 {
		errs = append(errs, "pipeline.concurrency must be positive")
	}
	if p.RetryAttempts <= 0 {
		errs = append(errs, "pipeline.retry_attempts must be positive")
	}
	if p.PageLimit <= 0 {
		errs = append(errs, "pipeline.page_limit must be positive")
	}
	if p.RetryMaxSeconds < p.RetryBaseSeconds {
		errs = append(errs, "pipeline.retry_max_seconds must not be below retry_base_seconds")
	}

	t := c.Thresholds
	if t.FlagForReview <= 0 || t.AutoAccept > 1 || t.FlagForReview > t.AutoAccept {
		errs = append(errs, "thresholds must satisfy 0 < flag_for_review <= auto_accept <= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
