package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docsplit/internal/api"
	"github.com/jackzampolin/docsplit/internal/svcctx"
	"github.com/jackzampolin/docsplit/internal/types"
)

// ListJobsResponse is the response for listing jobs.
type ListJobsResponse struct {
	Jobs []types.JobListItem `json:"jobs"`
}

// ListJobsEndpoint handles GET /api/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List jobs
//	@Tags		jobs
//	@Produce	json
//	@Param		X-User-ID	header		string	true	"Acting user"
//	@Success	200			{object}	ListJobsResponse
//	@Failure	401			{object}	ErrorResponse
//	@Failure	500			{object}	ErrorResponse
//	@Failure	503			{object}	ErrorResponse
//	@Router		/api/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	items, err := jm.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []types.JobListItem{}
	}

	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: items})
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp ListJobsResponse
			if err := client.Get(cmd.Context(), "/api/jobs", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// JobStatusesRequest asks for the status of several jobs at once.
type JobStatusesRequest struct {
	IDs []string `json:"ids"`
}

// JobStatusesResponse maps job id to status. Unknown ids are omitted.
type JobStatusesResponse struct {
	Statuses map[string]types.JobStatus `json:"statuses"`
}

// JobStatusesEndpoint handles POST /api/jobs/statuses.
type JobStatusesEndpoint struct{}

func (e *JobStatusesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/statuses", e.handler
}

func (e *JobStatusesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Batch job status
//	@Description	Poll the status of up to 50 jobs
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			X-User-ID	header		string				true	"Acting user"
//	@Param			request		body		JobStatusesRequest	true	"Job ids"
//	@Success		200			{object}	JobStatusesResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/jobs/statuses [post]
func (e *JobStatusesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	var req JobStatusesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	statuses, err := jm.StatusBatch(r.Context(), userID, req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, JobStatusesResponse{Statuses: statuses})
}

func (e *JobStatusesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "statuses <id>...",
		Short: "Get the status of several jobs",
		Args:  cobra.RangeArgs(1, 50),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp JobStatusesResponse
			if err := client.Post(cmd.Context(), "/api/jobs/statuses", JobStatusesRequest{IDs: args}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DashboardEndpoint handles GET /api/dashboard.
type DashboardEndpoint struct{}

func (e *DashboardEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/dashboard", e.handler
}

func (e *DashboardEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Dashboard statistics
//	@Description	Jobs by status, jobs created in the last 7 days, segments awaiting review, pages processed and recent activity
//	@Tags			jobs
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Acting user"
//	@Success		200			{object}	types.DashboardStats
//	@Failure		401			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/dashboard [get]
func (e *DashboardEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	stats, err := jm.Dashboard(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (e *DashboardEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show job statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp types.DashboardStats
			if err := client.Get(cmd.Context(), "/api/dashboard", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
