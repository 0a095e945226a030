package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docsplit/internal/api"
	"github.com/jackzampolin/docsplit/internal/segments"
	"github.com/jackzampolin/docsplit/internal/svcctx"
	"github.com/jackzampolin/docsplit/internal/types"
)

// MergeSegmentsRequest lists the adjacent segments to merge.
type MergeSegmentsRequest struct {
	SegmentIDs []string `json:"segment_ids"`
}

// MergeSegmentsEndpoint handles POST /api/jobs/{id}/merge.
type MergeSegmentsEndpoint struct{}

func (e *MergeSegmentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/merge", e.handler
}

func (e *MergeSegmentsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Merge segments
//	@Description	Merge 2 to 50 contiguous completed segments into the one with the lowest start page. Remaining segments are renumbered by page.
//	@Tags			segments
//	@Accept			json
//	@Produce		json
//	@Param			X-User-ID	header		string					true	"Acting user"
//	@Param			id			path		string					true	"Job ID"
//	@Param			request		body		MergeSegmentsRequest	true	"Segments to merge"
//	@Success		200			{object}	segments.MergeResult
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/jobs/{id}/merge [post]
func (e *MergeSegmentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	var req MergeSegmentsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	svc := svcctx.SegmentsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "segment service not initialized")
		return
	}

	res, err := svc.Merge(r.Context(), userID, r.PathValue("id"), req.SegmentIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (e *MergeSegmentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <job-id> <segment-id> <segment-id>...",
		Short: "Merge adjacent segments of a job",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp segments.MergeResult
			body := MergeSegmentsRequest{SegmentIDs: args[1:]}
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/merge", body, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CorrectSegmentRequest reclassifies a segment by hand.
type CorrectSegmentRequest = segments.CorrectRequest

// CorrectSegmentEndpoint handles PATCH /api/jobs/{id}/segments/{segment_id}.
type CorrectSegmentEndpoint struct{}

func (e *CorrectSegmentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/api/jobs/{id}/segments/{segment_id}", e.handler
}

func (e *CorrectSegmentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Correct a segment
//	@Description	Override the bucket and subtype of a completed segment. The subtype must belong to the bucket in the job's taxonomy.
//	@Tags			segments
//	@Accept			json
//	@Produce		json
//	@Param			X-User-ID	header		string					true	"Acting user"
//	@Param			id			path		string					true	"Job ID"
//	@Param			segment_id	path		string					true	"Segment ID"
//	@Param			request		body		CorrectSegmentRequest	true	"New classification"
//	@Success		200			{object}	types.Segment
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/jobs/{id}/segments/{segment_id} [patch]
func (e *CorrectSegmentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	var req CorrectSegmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	svc := svcctx.SegmentsFrom(r.Context())
	if svc == nil {
		writeError(w, http.StatusServiceUnavailable, "segment service not initialized")
		return
	}

	seg, err := svc.Correct(r.Context(), userID, r.PathValue("id"), r.PathValue("segment_id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, seg)
}

func (e *CorrectSegmentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req CorrectSegmentRequest
	cmd := &cobra.Command{
		Use:   "correct <job-id> <segment-id>",
		Short: "Reclassify a segment by hand",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFor(cmd, getServerURL)
			var resp types.Segment
			if err := client.Patch(cmd.Context(), "/api/jobs/"+args[0]+"/segments/"+args[1], req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.Bucket, "bucket", "", "Bucket, e.g. INCOME")
	cmd.Flags().StringVar(&req.Subtype, "subtype", "", "Subtype within the bucket, e.g. w2")
	return cmd
}
