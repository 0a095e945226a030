package config

import (
	"net"
	"net/url"
	"time"

	"github.com/jackzampolin/docsplit/internal/jobs"
	"github.com/jackzampolin/docsplit/internal/jobs/process_document"
	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/postgres"
	"github.com/jackzampolin/docsplit/internal/providers"
	"github.com/jackzampolin/docsplit/internal/types"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// DatabaseDSN returns the connection string for an external database.
// It resolves ${ENV_VAR} references.
func (c *Config) DatabaseDSN() string {
	d := c.Database
	if d.DSN != "" {
		return ResolveEnvVars(d.DSN)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, ResolveEnvVars(d.Password)),
		Host:   net.JoinHostPort(d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(d.SSLMode)
	}
	return u.String()
}

// ToPoolConfig converts the database section to a pool config for dsn.
func (c *Config) ToPoolConfig(dsn string) postgres.Config {
	return postgres.Config{
		DSN:      dsn,
		MaxConns: c.Database.MaxConns,
		MinConns: c.Database.MinConns,
	}
}

// ToDockerConfig converts the database section to a local container config.
func (c *Config) ToDockerConfig(homePath, dataPath string) postgres.DockerConfig {
	d := c.Database
	name := d.Container.Name
	if name == "" {
		name = postgres.GenerateContainerName(homePath)
	}
	return postgres.DockerConfig{
		ContainerName: name,
		Image:         d.Container.Image,
		DataPath:      dataPath,
		HostPort:      d.Container.Port,
		User:          d.User,
		Password:      ResolveEnvVars(d.Password),
		Database:      d.Name,
	}
}

// ToS3Config converts the storage section, resolving secrets.
func (c *Config) ToS3Config() objectstore.S3Config {
	s := c.Storage
	return objectstore.S3Config{
		Bucket:    s.Bucket,
		Region:    s.Region,
		Endpoint:  s.Endpoint,
		AccessKey: ResolveEnvVars(s.AccessKey),
		SecretKey: ResolveEnvVars(s.SecretKey),
		PathStyle: s.PathStyle,
	}
}

// PresignTTL returns how long presigned URLs stay valid.
func (c *Config) PresignTTL() time.Duration {
	return seconds(c.Storage.PresignTTLSeconds)
}

// ToLlamaCloudConfig converts the llamacloud section, resolving the API key.
func (c *Config) ToLlamaCloudConfig() providers.LlamaCloudConfig {
	l := c.LlamaCloud
	return providers.LlamaCloudConfig{
		APIKey:     ResolveEnvVars(l.APIKey),
		BaseURL:    l.BaseURL,
		Timeout:    seconds(l.TimeoutSeconds),
		RateLimit:  l.RateLimit,
		MaxRetries: l.MaxRetries,
	}
}

// ToOpenAIClassifierConfig converts the classifier.openai section.
func (c *Config) ToOpenAIClassifierConfig() providers.OpenAIClassifierConfig {
	o := c.Classifier.OpenAI
	return providers.OpenAIClassifierConfig{
		APIKey:     ResolveEnvVars(o.APIKey),
		Model:      o.Model,
		BaseURL:    o.BaseURL,
		Timeout:    seconds(o.TimeoutSeconds),
		MaxRetries: o.MaxRetries,
	}
}

// ToTunables converts the pipeline and thresholds sections.
func (c *Config) ToTunables() process_document.Tunables {
	p := c.Pipeline
	backoff := jobs.DefaultBackoff()
	backoff.Base = seconds(p.RetryBaseSeconds)
	backoff.Max = seconds(p.RetryMaxSeconds)

	return process_document.Tunables{
		Concurrency: p.Concurrency,
		Attempts:    p.RetryAttempts,
		PageLimit:   p.PageLimit,
		Backoff:     backoff,
		Thresholds: types.Thresholds{
			AutoAccept:    c.Thresholds.AutoAccept,
			FlagForReview: c.Thresholds.FlagForReview,
		},
		Poll: providers.PollConfig{
			Interval:    seconds(p.SplitPollIntervalSeconds),
			MaxInterval: seconds(p.SplitPollMaxIntervalSeconds),
			Timeout:     seconds(p.SplitTimeoutSeconds),
		},
		AllowPartial: p.AllowPartial,
	}
}
