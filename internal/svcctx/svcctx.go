// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/docsplit/internal/config"
	"github.com/jackzampolin/docsplit/internal/export"
	"github.com/jackzampolin/docsplit/internal/home"
	"github.com/jackzampolin/docsplit/internal/jobs"
	"github.com/jackzampolin/docsplit/internal/jobs/process_document"
	"github.com/jackzampolin/docsplit/internal/postgres"
	"github.com/jackzampolin/docsplit/internal/segments"
)

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	JobManager *jobs.Manager
	Segments   *segments.Service
	Export     *export.Service
	Runner     *jobs.Runner
	Launcher   *process_document.Launcher
	Database   Pinger                  // nil for the in-memory store
	Postgres   *postgres.DockerManager // nil unless the container is managed
	Config     *config.Manager
	Logger     *slog.Logger
	Home       *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// JobManagerFrom extracts the job manager from context.
func JobManagerFrom(ctx context.Context) *jobs.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.JobManager
	}
	return nil
}

// SegmentsFrom extracts the segment merge/correct service from context.
func SegmentsFrom(ctx context.Context) *segments.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Segments
	}
	return nil
}

// ExportFrom extracts the export service from context.
func ExportFrom(ctx context.Context) *export.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Export
	}
	return nil
}

// RunnerFrom extracts the background runner from context.
func RunnerFrom(ctx context.Context) *jobs.Runner {
	if s := ServicesFrom(ctx); s != nil {
		return s.Runner
	}
	return nil
}

// LauncherFrom extracts the process document launcher from context.
func LauncherFrom(ctx context.Context) *process_document.Launcher {
	if s := ServicesFrom(ctx); s != nil {
		return s.Launcher
	}
	return nil
}

// DatabaseFrom extracts the database pinger from context.
func DatabaseFrom(ctx context.Context) Pinger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Database
	}
	return nil
}

// PostgresFrom extracts the local Postgres container manager from context.
func PostgresFrom(ctx context.Context) *postgres.DockerManager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Postgres
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
