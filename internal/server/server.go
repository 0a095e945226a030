package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jackzampolin/docsplit/internal/api"
	"github.com/jackzampolin/docsplit/internal/config"
	"github.com/jackzampolin/docsplit/internal/export"
	"github.com/jackzampolin/docsplit/internal/home"
	"github.com/jackzampolin/docsplit/internal/jobs"
	"github.com/jackzampolin/docsplit/internal/jobs/process_document"
	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/postgres"
	"github.com/jackzampolin/docsplit/internal/providers"
	"github.com/jackzampolin/docsplit/internal/segments"
	"github.com/jackzampolin/docsplit/internal/server/endpoints"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/store/pgstore"
	"github.com/jackzampolin/docsplit/internal/svcctx"
	"github.com/jackzampolin/docsplit/internal/taxonomy"
)

// Server is the main docsplit HTTP server.
// When the database is managed it starts the local Postgres container on
// start and stops it on shutdown.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger

	// Set by init.
	pgManager  *postgres.DockerManager
	pool       *pgxpool.Pool
	runner     *jobs.Runner
	launcher   *process_document.Launcher
	jobManager *jobs.Manager
	taxonomy   *taxonomy.Source

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: server.host from config)
	Host string
	// Port is the port to listen on (default: server.port from config)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home locates the local Postgres data directory
	Home *home.Dir
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := cfg.ConfigManager.Get()
	if cfg.Host == "" {
		cfg.Host = c.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = c.Server.Port
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // exports build the archive inline
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start initializes storage and the pipeline, then serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.init(ctx); err != nil {
		_ = s.shutdown()
		return err
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// init wires config into the store, object storage, providers and the job
// pipeline, then publishes the services to request contexts.
func (s *Server) init(ctx context.Context) error {
	cfg := s.configMgr.Get()

	st, err := s.openStore(ctx, cfg)
	if err != nil {
		return err
	}

	var objects objectstore.Store
	switch cfg.Storage.Driver {
	case "memory":
		s.logger.Warn("using in-memory object storage; uploads are lost on restart")
		objects = objectstore.NewMemory()
	default:
		s3cfg := cfg.ToS3Config()
		s3cfg.Logger = s.logger
		objects, err = objectstore.NewS3(ctx, s3cfg)
		if err != nil {
			return fmt.Errorf("failed to create object store: %w", err)
		}
	}

	llamaCfg := cfg.ToLlamaCloudConfig()
	llamaCfg.Logger = s.logger
	llama := providers.NewLlamaCloudClient(llamaCfg)

	var classifier providers.Classifier = llama
	if cfg.Classifier.Provider == providers.OpenAIClassifierName {
		openaiCfg := cfg.ToOpenAIClassifierConfig()
		openaiCfg.Logger = s.logger
		classifier = providers.NewOpenAIClassifier(openaiCfg)
	}
	s.logger.Info("providers configured", "classifier", classifier.Name())

	s.taxonomy = taxonomy.NewSource(cfg.Taxonomy.File)
	if _, err := s.taxonomy.Current(); err != nil {
		return fmt.Errorf("failed to load taxonomy: %w", err)
	}

	// The runner outlives request contexts; Shutdown cancels it.
	s.runner = jobs.NewRunner(context.WithoutCancel(ctx), jobs.RunnerConfig{Logger: s.logger})

	s.launcher, err = process_document.NewLauncher(process_document.Config{
		Store:      st,
		Objects:    objects,
		Files:      llama,
		Splitter:   llama,
		Classifier: classifier,
		Taxonomy:   s.taxonomy,
		Logger:     s.logger,
		Tunables:   cfg.ToTunables(),
	}, s.runner)
	if err != nil {
		return fmt.Errorf("failed to create launcher: %w", err)
	}

	s.jobManager = jobs.NewManager(jobs.ManagerConfig{
		Store:    st,
		Objects:  objects,
		Launcher: s.launcher,
		Runs:     s.runner,
		Logger:   s.logger,
	})

	services := &svcctx.Services{
		JobManager: s.jobManager,
		Segments:   segments.NewService(segments.Config{Store: st, Objects: objects, Logger: s.logger}),
		Export: export.NewService(export.Config{
			Store:      st,
			Objects:    objects,
			PresignTTL: cfg.PresignTTL(),
			Logger:     s.logger,
		}),
		Runner:   s.runner,
		Launcher: s.launcher,
		Postgres: s.pgManager,
		Config:   s.configMgr,
		Logger:   s.logger,
		Home:     s.home,
	}
	if s.pool != nil {
		services.Database = s.pool
	}

	s.configMgr.OnChange(func(c *config.Config) {
		s.launcher.SetTunables(c.ToTunables())
		s.taxonomy.SetPath(c.Taxonomy.File)
		s.logger.Info("pipeline settings reloaded from config")
	})
	s.configMgr.OnError(func(err error) {
		s.logger.Error("config reload rejected", "error", err)
	})

	s.mu.Lock()
	s.services = services
	s.mu.Unlock()
	return nil
}

// openStore connects to Postgres, starting the managed container first if
// configured, or falls back to the in-memory store.
func (s *Server) openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		s.logger.Warn("using in-memory job store; jobs are lost on restart")
		return store.NewMemory(), nil
	}

	dsn := cfg.DatabaseDSN()
	if cfg.Database.Managed {
		if s.home == nil {
			return nil, errors.New("a home directory is required for a managed database")
		}
		if err := s.home.EnsurePostgresDataPath(); err != nil {
			return nil, fmt.Errorf("failed to create postgres data dir: %w", err)
		}
		mgr, err := postgres.NewDockerManager(cfg.ToDockerConfig(s.home.Path(), s.home.PostgresDataPath()))
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres manager: %w", err)
		}
		s.pgManager = mgr

		s.logger.Info("starting Postgres")
		if err := mgr.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start Postgres: %w", err)
		}
		dsn = mgr.DSN()
	}

	poolCfg := cfg.ToPoolConfig(dsn)
	poolCfg.Logger = s.logger
	pool, err := postgres.Open(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	s.pool = pool

	s.logger.Info("applying migrations")
	if err := postgres.Migrate(ctx, pool, s.logger); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	s.logger.Info("Postgres is ready")
	return pgstore.New(pool, s.logger), nil
}

// shutdown stops HTTP, drains background runs and releases the database.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.runner != nil {
		s.logger.Info("stopping background runs")
		if err := s.runner.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("runner shutdown error", "error", err)
		}
	}

	if s.pool != nil {
		s.pool.Close()
	}

	if s.pgManager != nil {
		s.logger.Info("stopping Postgres")
		if err := s.pgManager.Stop(shutdownCtx); err != nil {
			s.logger.Error("Postgres stop error", "error", err)
		}
		if err := s.pgManager.Close(); err != nil {
			s.logger.Error("Postgres manager close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// JobManager returns the job manager.
// Returns nil if the server hasn't started yet.
func (s *Server) JobManager() *jobs.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.services == nil {
		return nil
	}
	return s.services.JobManager
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) currentServices() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if services := s.currentServices(); services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the job manager is ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.JobManager() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
