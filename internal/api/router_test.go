package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/cookiehunter/internal/api"
	mw "github.com/kiranshivaraju/cookiehunter/internal/api/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub counter ---

type stubCounter struct{ count int64 }

func (c *stubCounter) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	c.count++
	return c.count, nil
}

// --- router tests ---

func named(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(name))
	}
}

func newTestRouter(limit int) http.Handler {
	return api.NewRouter(api.Dependencies{
		RateLimit:      mw.NewRateLimit(&stubCounter{}, limit),
		HealthHandler:  named("health"),
		ScannerStatus:  named("scanner"),
		StartScan:      named("start"),
		LastScan:       named("last"),
		Progress:       named("progress"),
		AdvanceScan:    named("advance"),
		StopScan:       named("stop"),
		ListURLs:       named("urls"),
		ListCookies:    named("cookies"),
		Reset:          named("reset"),
		MergedCookies:  named("merged"),
		ListCategories: named("categories"),
	})
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(1000)

	routes := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/api/v1/health", "health"},
		{http.MethodGet, "/api/v1/scanner", "scanner"},
		{http.MethodPost, "/api/v1/scans", "start"},
		{http.MethodDelete, "/api/v1/scans", "reset"},
		{http.MethodGet, "/api/v1/scans/last", "last"},
		{http.MethodGet, "/api/v1/scans/12", "progress"},
		{http.MethodPost, "/api/v1/scans/12/advance", "advance"},
		{http.MethodPost, "/api/v1/scans/12/stop", "stop"},
		{http.MethodGet, "/api/v1/scans/12/urls", "urls"},
		{http.MethodGet, "/api/v1/scans/12/cookies", "cookies"},
		{http.MethodGet, "/api/v1/cookies", "merged"},
		{http.MethodGet, "/api/v1/categories", "categories"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(rt.method, rt.path, nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, rt.want, w.Body.String())
		})
	}
}

func TestRouter_RateLimitsScanRoutes(t *testing.T) {
	router := newTestRouter(1)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scanner", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/scanner", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// health stays reachable
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_NotImplemented(t *testing.T) {
	router := api.NewRouter(api.Dependencies{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/scans/1/advance", nil))

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_IMPLEMENTED", body["error"].(map[string]any)["code"])
}

func TestRouter_NotFound(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter(1000).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/nonexistent", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
