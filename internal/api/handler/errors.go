package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/cookiehunter/internal/api/response"
	"github.com/kiranshivaraju/cookiehunter/internal/cache"
	"github.com/kiranshivaraju/cookiehunter/internal/scanner"
	"github.com/kiranshivaraju/cookiehunter/pkg/models"
)

var errInvalidJobID = errors.New("job id must be a positive integer")

// writeError maps service errors to status codes and error codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scanner.ErrLocalEnvironment):
		response.Error(w, http.StatusUnprocessableEntity, "LOCAL_ENVIRONMENT",
			scanner.MsgUnavailable+scanner.MsgLocalServer, nil)
	case errors.Is(err, scanner.ErrTablesMissing):
		response.Error(w, http.StatusServiceUnavailable, "TABLES_MISSING",
			"Scanner tables are missing", nil)
	case errors.Is(err, scanner.ErrInvalidState):
		response.Error(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, scanner.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Scan job not found", nil)
	case errors.Is(err, scanner.ErrStorage):
		slog.Error("storage failure", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusServiceUnavailable, "STORAGE_ERROR",
			"Storage is temporarily unavailable, retry later", nil)
	case errors.Is(err, scanner.ErrEnumeration):
		response.Error(w, http.StatusBadGateway, "ENUMERATION_FAILED",
			"Could not list the pages of the site", nil)
	case errors.Is(err, models.ErrInvalidURL), errors.Is(err, errInvalidJobID), errors.Is(err, response.ErrInvalidPage):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, cache.ErrLockHeld):
		response.Error(w, http.StatusConflict, "SCAN_BUSY",
			"Another request is working on this scan", nil)
	default:
		slog.Error("unexpected handler error", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func jobIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidJobID
	}
	return id, nil
}
