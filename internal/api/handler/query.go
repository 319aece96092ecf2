package handler

import (
	"context"
	"net/http"

	mw "github.com/kiranshivaraju/cookiehunter/internal/api/middleware"
	"github.com/kiranshivaraju/cookiehunter/internal/api/response"
	"github.com/kiranshivaraju/cookiehunter/internal/scanner"
	"github.com/kiranshivaraju/cookiehunter/pkg/models"
)

// ScanReader answers read-only questions about scans.
type ScanReader interface {
	ScannerStatus(ctx context.Context, clientIP string) scanner.Status
	LastScan(ctx context.Context) (*models.ScanJob, error)
	CurrentProgress(ctx context.Context, jobID int64) (*models.ProgressReport, error)
	ListURLs(ctx context.Context, jobID int64, offset, limit int) ([]*models.ScanURL, int, error)
	ListCookies(ctx context.Context, jobID int64, offset, limit int) ([]*models.ScanCookie, int, error)
	MergedCookieList(ctx context.Context) ([]models.CookieEntry, error)
	Categories(ctx context.Context) ([]*models.Category, error)
}

// NewScannerStatusHandler returns an http.HandlerFunc for GET /api/v1/scanner.
func NewScannerStatusHandler(svc ScanReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientIP, _ := mw.GetClientIP(r)
		response.JSON(w, svc.ScannerStatus(r.Context(), clientIP))
	}
}

// NewLastScanHandler returns an http.HandlerFunc for GET /api/v1/scans/last.
func NewLastScanHandler(svc ScanReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.LastScan(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewProgressHandler returns an http.HandlerFunc for GET /api/v1/scans/{jobID}.
func NewProgressHandler(svc ScanReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := jobIDParam(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		report, err := svc.CurrentProgress(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, report)
	}
}

// NewListURLsHandler returns an http.HandlerFunc for
// GET /api/v1/scans/{jobID}/urls.
func NewListURLsHandler(svc ScanReader) http.HandlerFunc {
	return pagedByJob(svc.ListURLs)
}

// NewListCookiesHandler returns an http.HandlerFunc for
// GET /api/v1/scans/{jobID}/cookies.
func NewListCookiesHandler(svc ScanReader) http.HandlerFunc {
	return pagedByJob(svc.ListCookies)
}

func pagedByJob[T any](list func(context.Context, int64, int, int) ([]T, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := jobIDParam(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		page, err := response.ParsePage(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		items, total, err := list(r.Context(), jobID, page.Offset(), page.Limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		response.Collection(w, items, page.Meta(total))
	}
}

// NewMergedCookiesHandler returns an http.HandlerFunc for GET /api/v1/cookies.
func NewMergedCookiesHandler(svc ScanReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.MergedCookieList(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, entries)
	}
}

// NewCategoriesHandler returns an http.HandlerFunc for GET /api/v1/categories.
func NewCategoriesHandler(svc ScanReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cats, err := svc.Categories(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, cats)
	}
}
