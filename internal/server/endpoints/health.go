package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docsplit/internal/jobs"
	"github.com/jackzampolin/docsplit/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Health check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Readiness check
//	@Description	Reports ready once services are wired and the database answers a ping
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Router			/ready [get]
func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "ok"}

	if svcctx.JobManagerFrom(r.Context()) == nil {
		resp.Status = "degraded"
		resp.Database = "not_initialized"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	db := svcctx.DatabaseFrom(r.Context())
	if db == nil {
		resp.Database = "memory"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err := db.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (includes the database)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status:   %s\n", resp.Status)
			if resp.Database != "" {
				fmt.Printf("Database: %s\n", resp.Database)
			}
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server     string           `json:"server"`
	ConfigFile string           `json:"config_file,omitempty"`
	Database   DatabaseStatus   `json:"database"`
	Pipeline   *PipelineStatus  `json:"pipeline,omitempty"`
	Runs       []jobs.RunStatus `json:"runs"`
}

// DatabaseStatus shows the store driver and, when managed, its container.
type DatabaseStatus struct {
	Driver    string `json:"driver"`
	Container string `json:"container,omitempty"`
	Health    string `json:"health"`
}

// PipelineStatus shows the tunables new runs will use.
type PipelineStatus struct {
	Concurrency   int     `json:"concurrency"`
	Attempts      int     `json:"attempts"`
	PageLimit     int     `json:"page_limit"`
	AutoAccept    float64 `json:"auto_accept"`
	FlagForReview float64 `json:"flag_for_review"`
	AllowPartial  bool    `json:"allow_partial"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Server status
//	@Description	Database health, local container state, pipeline tunables and active runs
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{
		Server: "running",
		Runs:   []jobs.RunStatus{},
	}

	if cm := svcctx.ConfigFrom(ctx); cm != nil {
		resp.ConfigFile = cm.ConfigFile()
		resp.Database.Driver = cm.Get().Database.Driver
	}

	if pg := svcctx.PostgresFrom(ctx); pg != nil {
		status, err := pg.Status(ctx)
		if err != nil {
			resp.Database.Container = "error"
		} else {
			resp.Database.Container = string(status)
		}
	}

	switch db := svcctx.DatabaseFrom(ctx); {
	case svcctx.JobManagerFrom(ctx) == nil:
		resp.Database.Health = "not_initialized"
	case db == nil:
		resp.Database.Health = "healthy"
	case db.Ping(ctx) != nil:
		resp.Database.Health = "unhealthy"
	default:
		resp.Database.Health = "healthy"
	}

	if l := svcctx.LauncherFrom(ctx); l != nil {
		t := l.Tunables()
		resp.Pipeline = &PipelineStatus{
			Concurrency:   t.Concurrency,
			Attempts:      t.Attempts,
			PageLimit:     t.PageLimit,
			AutoAccept:    t.Thresholds.AutoAccept,
			FlagForReview: t.Thresholds.FlagForReview,
			AllowPartial:  t.AllowPartial,
		}
	}

	if runner := svcctx.RunnerFrom(ctx); runner != nil {
		if active := runner.Active(); len(active) > 0 {
			resp.Runs = active
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			fmt.Printf("Server: %s\n", resp.Server)
			if resp.ConfigFile != "" {
				fmt.Printf("Config: %s\n", resp.ConfigFile)
			}
			fmt.Printf("Database:\n")
			fmt.Printf("  Driver:    %s\n", resp.Database.Driver)
			if resp.Database.Container != "" {
				fmt.Printf("  Container: %s\n", resp.Database.Container)
			}
			fmt.Printf("  Health:    %s\n", resp.Database.Health)
			if p := resp.Pipeline; p != nil {
				fmt.Printf("Pipeline:\n")
				fmt.Printf("  Concurrency: %d  Attempts: %d  Page limit: %d\n", p.Concurrency, p.Attempts, p.PageLimit)
				fmt.Printf("  Thresholds:  %.2f / %.2f\n", p.AutoAccept, p.FlagForReview)
			}
			fmt.Printf("Active runs: %d\n", len(resp.Runs))
			for _, run := range resp.Runs {
				fmt.Printf("  %s  job=%s  since %s\n", run.Handle, run.JobID, run.StartedAt.Format("15:04:05"))
			}
			return nil
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
