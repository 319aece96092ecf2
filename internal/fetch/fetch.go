// Package fetch requests a page over HTTP and reports the cookies it sets.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kiranshivaraju/cookiehunter/internal/catalog"
	"github.com/kiranshivaraju/cookiehunter/pkg/models"
)

// Sentinel errors for page fetch failures.
var (
	ErrFetchFailed  = errors.New("page fetch failed")
	ErrFetchTimeout = errors.New("page fetch timeout")
	ErrFetchStatus  = errors.New("page returned error status")
)

// Cookie types.
const (
	TypeSession    = "session"
	TypePersistent = "persistent"
)

const (
	maxRedirects = 10
	maxBodyDrain = 1 << 20
)

// Classifier looks up a declared cookie by name.
type Classifier interface {
	Classify(name string) (catalog.KnownCookie, bool)
}

// Options configures an HTTPFetcher. Timeout bounds one page including its
// redirect chain. When Limiter is nil a HostLimiter is built from RatePerSec
// and Burst.
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	RatePerSec float64
	Burst      int
	Limiter    *HostLimiter
}

// HTTPFetcher fetches pages and collects the cookies set by every response
// along the redirect chain.
type HTTPFetcher struct {
	client     *http.Client
	userAgent  string
	limiter    *HostLimiter
	classifier Classifier
	timeout    time.Duration
	now        func() time.Time
}

// NewHTTPFetcher creates a fetcher that classifies cookies with classifier.
func NewHTTPFetcher(opts Options, classifier Classifier) *HTTPFetcher {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewHostLimiter(opts.RatePerSec, opts.Burst)
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent:  opts.UserAgent,
		limiter:    limiter,
		classifier: classifier,
		timeout:    opts.Timeout,
		now:        time.Now,
	}
}

// Fetch requests pageURL and returns the cookies it sets. Cookies that are
// being deleted (expired or negative Max-Age) are not reported. The whole
// redirect chain shares one timeout.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) ([]models.RawCookie, error) {
	target, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	cookies := []models.RawCookie{}
	for hop := 0; ; hop++ {
		resp, err := f.get(ctx, target.String())
		if err != nil {
			return nil, err
		}
		cookies = append(cookies, f.collect(resp.Cookies(), target.Hostname())...)

		location := resp.Header.Get("Location")
		status := resp.StatusCode
		drain(resp.Body)

		if status >= 300 && status < 400 && location != "" {
			if hop >= maxRedirects {
				return nil, fmt.Errorf("%w: stopped after %d redirects", ErrFetchFailed, maxRedirects)
			}
			next, err := target.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("%w: bad redirect location: %v", ErrFetchFailed, err)
			}
			target = next
			continue
		}
		if status >= 400 {
			return nil, fmt.Errorf("%w: status %d", ErrFetchStatus, status)
		}
		return cookies, nil
	}
}

func (f *HTTPFetcher) get(ctx context.Context, u string) (*http.Response, error) {
	if err := f.limiter.WaitURL(ctx, u); err != nil {
		return nil, classifyError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrFetchFailed, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

func (f *HTTPFetcher) collect(set []*http.Cookie, host string) []models.RawCookie {
	now := f.now()
	out := make([]models.RawCookie, 0, len(set))
	for _, hc := range set {
		raw, ok := f.toRawCookie(hc, host, now)
		if !ok {
			continue
		}
		c, err := models.NewRawCookie(raw)
		if err != nil {
			slog.Warn("dropping invalid cookie", "host", host, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (f *HTTPFetcher) toRawCookie(hc *http.Cookie, host string, now time.Time) (models.RawCookie, bool) {
	raw := models.RawCookie{
		Name:     hc.Name,
		Domain:   hc.Domain,
		Type:     TypeSession,
		Duration: TypeSession,
	}
	if raw.Domain == "" {
		raw.Domain = host
	}

	switch {
	case hc.MaxAge < 0:
		return raw, false
	case hc.MaxAge > 0:
		raw.Type = TypePersistent
		raw.Duration = humanDuration(now, now.Add(time.Duration(hc.MaxAge)*time.Second))
	case !hc.Expires.IsZero():
		if !hc.Expires.After(now) {
			return raw, false
		}
		raw.Type = TypePersistent
		raw.Duration = humanDuration(now, hc.Expires)
	}

	if f.classifier != nil {
		if kc, ok := f.classifier.Classify(hc.Name); ok {
			raw.Category = kc.Category
			raw.Description = kc.Description
		}
	}
	return raw, true
}

// humanDuration renders the distance from now to expires, e.g. "1 year".
func humanDuration(now, expires time.Time) string {
	return strings.TrimSpace(humanize.RelTime(now, expires, "", ""))
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxBodyDrain))
	body.Close()
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrFetchFailed, err)
}
