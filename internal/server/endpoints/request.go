package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/docsplit/internal/api"
	"github.com/jackzampolin/docsplit/internal/svcctx"
	"github.com/jackzampolin/docsplit/internal/types"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// userFrom returns the acting user or writes 401.
func userFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(api.UserHeader))
	if id == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return "", false
	}
	return id, true
}

// decodeBody reads a JSON body into v or writes 400.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps service errors to status codes. Validation and
// not-found messages reach the caller verbatim; anything else is logged and
// reported as a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case types.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case types.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger := svcctx.LoggerFrom(r.Context())
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// UserFlag names the persistent flag the CLI reads the acting user from.
const UserFlag = "user"

// clientFor builds an API client for a CLI command, acting as the user
// given by --user or DOCSPLIT_USER.
func clientFor(cmd *cobra.Command, getServerURL func() string) *api.Client {
	user, _ := cmd.Flags().GetString(UserFlag)
	if user == "" {
		user = os.Getenv("DOCSPLIT_USER")
	}
	return api.NewClient(getServerURL(), api.WithUserID(user))
}

func baseName(key string) string {
	return path.Base(key)
}
