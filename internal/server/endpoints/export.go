package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docsplit/internal/api"
	"github.com/jackzampolin/docsplit/internal/export"
	"github.com/jackzampolin/docsplit/internal/svcctx"
)

// SourceURLEndpoint handles GET /api/jobs/{id}/source-url.
type SourceURLEndpoint struct{}

func (e *SourceURLEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/source-url", e.handler
}

func (e *SourceURLEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Source PDF link
//	@Tags		export
//	@Produce	json
//	@Param		X-User-ID	header		string	true	"Acting user"
//	@Param		id			path		string	true	"Job ID"
//	@Success	200			{object}	export.SourceURL
//	@Failure	401			{object}	ErrorResponse
//	@Failure	404			{object}	ErrorResponse
//	@Failure	503			{object}	ErrorResponse
//	@Router		/api/jobs/{id}/source-url [get]
func (e *SourceURLEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	svc := svcctx.ExportFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "export service not initialized")
		return
	}

	res, err := svc.SourceURL(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *SourceURLEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "source-url <job-id>",
		Short: "Get a presigned link to a job's source PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp export.SourceURL
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/source-url", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// SegmentURLEndpoint handles GET /api/jobs/{id}/segments/{segment_id}/url.
type SegmentURLEndpoint struct{}

func (e *SegmentURLEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/segments/{segment_id}/url", e.handler
}

func (e *SegmentURLEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Segment PDF link
//	@Tags		export
//	@Produce	json
//	@Param		X-User-ID	header		string	true	"Acting user"
//	@Param		id			path		string	true	"Job ID"
//	@Param		segment_id	path		string	true	"Segment ID"
//	@Success	200			{object}	export.SegmentURL
//	@Failure	401			{object}	ErrorResponse
//	@Failure	404			{object}	ErrorResponse
//	@Failure	503			{object}	ErrorResponse
//	@Router		/api/jobs/{id}/segments/{segment_id}/url [get]
func (e *SegmentURLEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	svc := svcctx.ExportFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "export service not initialized")
		return
	}

	res, err := svc.SegmentURL(r.Context(), userID, r.PathValue("id"), r.PathValue("segment_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *SegmentURLEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "segment-url <job-id> <segment-id>",
		Short: "Get a presigned link to a segment PDF",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp export.SegmentURL
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/segments/"+args[1]+"/url", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ExportJobEndpoint handles POST /api/jobs/{id}/export.
type ExportJobEndpoint struct{}

func (e *ExportJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/export", e.handler
}

func (e *ExportJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Export a completed job
//	@Description	Build a ZIP of every finalized segment PDF filed by folder, with manifest.csv and manifest.xlsx, and return a presigned link to it
//	@Tags			export
//	@Produce		json
//	@Param			X-User-ID	header		string	true	"Acting user"
//	@Param			id			path		string	true	"Job ID"
//	@Success		200			{object}	export.Download
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/jobs/{id}/export [post]
func (e *ExportJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	svc := svcctx.ExportFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "export service not initialized")
		return
	}

	res, err := svc.DownloadAll(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *ExportJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "export <job-id>",
		Short: "Export a completed job as a ZIP with manifests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp export.Download
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/export", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// PresignUploadRequest asks for a presigned upload of a source PDF.
type PresignUploadRequest = export.UploadRequest

// PresignUploadEndpoint handles POST /api/uploads/presign.
type PresignUploadEndpoint struct{}

func (e *PresignUploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/uploads/presign", e.handler
}

func (e *PresignUploadEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Presign a source upload
//	@Description	Return a presigned PUT for a PDF of at most 500MB. Create the job with the returned key once the upload finishes.
//	@Tags			uploads
//	@Accept			json
//	@Produce		json
//	@Param			X-User-ID	header		string					true	"Acting user"
//	@Param			request		body		PresignUploadRequest	true	"File to upload"
//	@Success		200			{object}	export.Upload
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/uploads/presign [post]
func (e *PresignUploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	if _, ok := userFrom(w, r); !ok {
		return
	}
	var req PresignUploadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	svc := svcctx.ExportFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "export service not initialized")
		return
	}

	res, err := svc.PresignUpload(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *PresignUploadEndpoint) Command(getServerURL func() string) *cobra.Command {
	var loanID string
	cmd := &cobra.Command{
		Use:   "presign <file.pdf>",
		Short: "Get a presigned upload URL for a local PDF",
		Long: `Get a presigned upload URL for a local PDF.

The file's name and size are read from disk. PUT the file to the returned
URL with Content-Type application/pdf, then create a job with the key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if loanID == "" {
				return fmt.Errorf("--loan is required")
			}
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			req := PresignUploadRequest{
				LoanID:        loanID,
				Filename:      info.Name(),
				ContentType:   "application/pdf",
				FileSizeBytes: info.Size(),
			}
			client := clientFor(cmd, getServerURL)
			var resp export.Upload
			if err := client.Post(cmd.Context(), "/api/uploads/presign", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&loanID, "loan", "", "Loan ID (required)")
	return cmd
}
