package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/cookiehunter/internal/catalog"
	"github.com/kiranshivaraju/cookiehunter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(timeout time.Duration) *HTTPFetcher {
	return NewHTTPFetcher(Options{
		Timeout:   timeout,
		UserAgent: "CookieHunter/test",
	}, catalog.Default())
}

func byName(cookies []models.RawCookie) map[string]models.RawCookie {
	m := make(map[string]models.RawCookie, len(cookies))
	for _, c := range cookies {
		m[c.Name] = c
	}
	return m
}

func TestFetch_CollectsAndClassifiesCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CookieHunter/test", r.Header.Get("User-Agent"))
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc"})
		http.SetCookie(w, &http.Cookie{Name: "_ga", Value: "GA1", MaxAge: 3600, Domain: ".example.com"})
		http.SetCookie(w, &http.Cookie{Name: "_ga_XYZ", Value: "1", MaxAge: 60})
		http.SetCookie(w, &http.Cookie{Name: "custom", Value: "1"})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cookies, err := newTestFetcher(5*time.Second).Fetch(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	require.Len(t, cookies, 4)

	got := byName(cookies)

	sess := got["PHPSESSID"]
	assert.Equal(t, TypeSession, sess.Type)
	assert.Equal(t, TypeSession, sess.Duration)
	assert.Equal(t, "127.0.0.1", sess.Domain, "host-only cookies report the page host")
	assert.Equal(t, "Necessary", sess.Category)

	ga := got["_ga"]
	assert.Equal(t, TypePersistent, ga.Type)
	assert.Equal(t, "1 hour", ga.Duration)
	assert.Equal(t, "example.com", ga.Domain)
	assert.Equal(t, "Analytics", ga.Category)
	assert.NotEmpty(t, ga.Description)

	assert.Equal(t, "Analytics", got["_ga_XYZ"].Category, "prefix declarations classify")
	assert.Equal(t, models.UnclassifiedCategory, got["custom"].Category)
}

func TestFetch_SkipsDeletedCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "gone", Value: "", MaxAge: -1})
		http.SetCookie(w, &http.Cookie{Name: "old", Value: "x", Expires: time.Unix(1000, 0)})
		http.SetCookie(w, &http.Cookie{Name: "kept", Value: "x"})
	}))
	defer srv.Close()

	cookies, err := newTestFetcher(5*time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "kept", cookies[0].Name)
}

func TestFetch_FollowsRedirectsAndKeepsCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "hop", Value: "1"})
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "landing", Value: "1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cookies, err := newTestFetcher(5*time.Second).Fetch(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	require.Len(t, cookies, 2)
	assert.Equal(t, "hop", cookies[0].Name)
	assert.Equal(t, "landing", cookies[1].Name)
}

func TestFetch_RedirectLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/again", http.StatusFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(5*time.Second).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestFetch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "err", Value: "1"})
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(5*time.Second).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrFetchStatus)
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := newTestFetcher(50*time.Millisecond).Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrFetchTimeout)
}

func TestFetch_TimeoutCoversRedirectChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestFetcher(150*time.Millisecond).Fetch(context.Background(), srv.URL+"/")
	assert.ErrorIs(t, err, ErrFetchTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestNewHTTPFetcher_SharedLimiter(t *testing.T) {
	hl := NewHostLimiter(1, 1)
	f := NewHTTPFetcher(Options{Limiter: hl, RatePerSec: 100}, nil)
	assert.Same(t, hl, f.limiter)

	require.NoError(t, hl.WaitURL(context.Background(), "https://example.com/"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.get(ctx, "https://example.com/page")
	assert.Error(t, err, "the fetcher waits on the shared host budget")
}

func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := newTestFetcher(time.Second).Fetch(context.Background(), addr)
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestToRawCookie_Expires(t *testing.T) {
	f := newTestFetcher(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	raw, ok := f.toRawCookie(&http.Cookie{Name: "wpl_user_preference", Expires: now.Add(400 * 24 * time.Hour)}, "example.com", now)
	require.True(t, ok)
	assert.Equal(t, TypePersistent, raw.Type)
	assert.Equal(t, "1 year", raw.Duration)
	assert.Equal(t, "Necessary", raw.Category)
}

func TestHostLimiter_SeparateHosts(t *testing.T) {
	hl := NewHostLimiter(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, hl.WaitURL(ctx, "https://a.example.com/"))
	require.NoError(t, hl.WaitURL(ctx, "https://b.example.com/"))
	assert.Error(t, hl.WaitURL(ctx, "https://a.example.com/x"), "second request to the same host must wait")
}

func TestHostLimiter_Disabled(t *testing.T) {
	hl := NewHostLimiter(0, 0)
	for range 10 {
		require.NoError(t, hl.WaitURL(context.Background(), "https://example.com/"))
	}
}
