package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docsplit/internal/api"
	"github.com/jackzampolin/docsplit/internal/svcctx"
	"github.com/jackzampolin/docsplit/internal/types"
)

// RetryJobRequest optionally resumes at a later stage instead of running
// the whole pipeline again.
type RetryJobRequest struct {
	FromStage string `json:"from_stage,omitempty" enums:"CLASSIFYING,FINALIZING"`
}

// RetryJobEndpoint handles POST /api/jobs/{id}/retry.
type RetryJobEndpoint struct{}

func (e *RetryJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/retry", e.handler
}

func (e *RetryJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Retry a job
//	@Description	Restart a failed or cancelled job. With from_stage, resume at CLASSIFYING or FINALIZING using the existing segments.
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			X-User-ID	header		string			true	"Acting user"
//	@Param			id			path		string			true	"Job ID"
//	@Param			request		body		RetryJobRequest	false	"Resume stage"
//	@Success		200			{object}	JobIDResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/jobs/{id}/retry [post]
func (e *RetryJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	var req RetryJobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, err := types.ParseStage(req.FromStage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	if from == types.StageAll {
		err = jm.Retry(r.Context(), userID, id)
	} else {
		err = jm.RetryFrom(r.Context(), userID, id, from)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, JobIDResponse{JobID: id})
}

func (e *RetryJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed or cancelled job",
		Long: `Retry a failed or cancelled job.

Without --from the whole pipeline runs again; segments that already
completed keep their results. --from CLASSIFYING re-classifies every
unfinished segment, --from FINALIZING only re-extracts segment PDFs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp JobIDResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/retry", RetryJobRequest{FromStage: from}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Resume stage: CLASSIFYING or FINALIZING")
	return cmd
}

// CancelJobEndpoint handles POST /api/jobs/{id}/cancel.
type CancelJobEndpoint struct{}

func (e *CancelJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/cancel", e.handler
}

func (e *CancelJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Cancel a job
//	@Description	Stop an in-progress job. The job is marked CANCELLED even if its run has already ended.
//	@Tags			jobs
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Acting user"
//	@Param			id			path		string	true	"Job ID"
//	@Success		200			{object}	JobIDResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/jobs/{id}/cancel [post]
func (e *CancelJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	if err := jm.Cancel(r.Context(), userID, id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, JobIDResponse{JobID: id})
}

func (e *CancelJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel an in-progress job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp JobIDResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
