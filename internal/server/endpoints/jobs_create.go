package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docsplit/internal/api"
	"github.com/jackzampolin/docsplit/internal/jobs"
	"github.com/jackzampolin/docsplit/internal/svcctx"
)

// CreateJobRequest is the request body for creating a job from an
// uploaded source PDF.
type CreateJobRequest = jobs.CreateRequest

// JobIDResponse names the job a mutation acted on.
type JobIDResponse struct {
	JobID string `json:"job_id"`
}

// CreateJobEndpoint handles POST /api/jobs.
type CreateJobEndpoint struct{}

func (e *CreateJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs", e.handler
}

func (e *CreateJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Create a job
//	@Description	Register an uploaded source PDF and start processing it. Repeating the call for the same file key returns the existing job.
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			X-User-ID	header		string				true	"Acting user"
//	@Param			request		body		CreateJobRequest	true	"Uploaded file"
//	@Success		201			{object}	JobIDResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/jobs [post]
func (e *CreateJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	var req CreateJobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.UserID = userID

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	id, err := jm.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, JobIDResponse{JobID: id})
}

func (e *CreateJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req CreateJobRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job for an uploaded PDF",
		Long: `Create a job for a PDF already uploaded to object storage.

Upload the file first with a presigned URL from 'docsplit api uploads presign',
then pass the returned key here.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.LoanID == "" || req.FileKey == "" {
				return fmt.Errorf("--loan and --key are required")
			}
			if req.FileName == "" {
				req.FileName = baseName(req.FileKey)
			}
			client := clientFor(cmd, getServerURL)
			var resp JobIDResponse
			if err := client.Post(cmd.Context(), "/api/jobs", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.LoanID, "loan", "", "Loan ID (required)")
	cmd.Flags().StringVar(&req.FileKey, "key", "", "Object storage key of the uploaded PDF (required)")
	cmd.Flags().StringVar(&req.FileName, "name", "", "Original file name (default: last part of the key)")
	cmd.Flags().Int64Var(&req.FileSizeBytes, "size", 0, "File size in bytes")
	return cmd
}
