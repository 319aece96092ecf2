package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/cookiehunter/internal/api/middleware"
	"github.com/kiranshivaraju/cookiehunter/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	ScannerStatus  http.HandlerFunc
	StartScan      http.HandlerFunc
	LastScan       http.HandlerFunc
	Progress       http.HandlerFunc
	AdvanceScan    http.HandlerFunc
	StopScan       http.HandlerFunc
	ListURLs       http.HandlerFunc
	ListCookies    http.HandlerFunc
	Reset          http.HandlerFunc
	MergedCookies  http.HandlerFunc
	ListCategories http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.ClientIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Get("/api/v1/scanner", orNotImplemented(deps.ScannerStatus))

		r.Route("/api/v1/scans", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.StartScan))
			r.Delete("/", orNotImplemented(deps.Reset))
			r.Get("/last", orNotImplemented(deps.LastScan))

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", orNotImplemented(deps.Progress))
				r.Post("/advance", orNotImplemented(deps.AdvanceScan))
				r.Post("/stop", orNotImplemented(deps.StopScan))
				r.Get("/urls", orNotImplemented(deps.ListURLs))
				r.Get("/cookies", orNotImplemented(deps.ListCookies))
			})
		})

		r.Get("/api/v1/cookies", orNotImplemented(deps.MergedCookies))
		r.Get("/api/v1/categories", orNotImplemented(deps.ListCategories))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
