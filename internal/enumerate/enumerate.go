// Package enumerate discovers the pages of a site: first from its sitemaps,
// then by following same-host links from the site root.
package enumerate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/kiranshivaraju/cookiehunter/pkg/models"
)

// ErrSiteUnreachable is returned when neither a sitemap nor the root page
// could be loaded.
var ErrSiteUnreachable = errors.New("site unreachable")

const (
	maxBodySize = 5 << 20
	maxSitemaps = 20
)

var skippedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true, ".ico": true,
	".css": true, ".js": true, ".json": true, ".xml": true, ".txt": true,
	".pdf": true, ".zip": true, ".gz": true, ".mp3": true, ".mp4": true, ".woff": true, ".woff2": true,
}

// Limiter paces requests per host. fetch.HostLimiter satisfies it.
type Limiter interface {
	WaitURL(ctx context.Context, raw string) error
}

// Options configures a SiteEnumerator. A nil Limiter leaves requests unpaced.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Limiter   Limiter
}

// SiteEnumerator lists the pages of a single site.
type SiteEnumerator struct {
	client    *http.Client
	userAgent string
	limiter   Limiter
}

// NewSiteEnumerator creates a SiteEnumerator.
func NewSiteEnumerator(opts Options) *SiteEnumerator {
	return &SiteEnumerator{
		client:    &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		limiter:   opts.Limiter,
	}
}

// Enumerate returns up to maxPages distinct same-host URLs, the site root
// first. Sitemap entries come next in document order, then links found by a
// breadth-first walk of the collected pages.
func (e *SiteEnumerator) Enumerate(ctx context.Context, siteRoot string, maxPages int) ([]string, error) {
	rootURL, err := models.NewScanURL(siteRoot)
	if err != nil {
		return nil, err
	}
	root, err := url.Parse(rootURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidURL, err)
	}

	c := newCollector(root, maxPages)
	if maxPages <= 0 {
		return c.urls, nil
	}
	c.add(root, rootURL)

	fromSitemap := e.walkSitemaps(ctx, root, c)

	rootErr := e.crawl(ctx, c)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rootErr != nil && !fromSitemap {
		return nil, fmt.Errorf("%w: %v", ErrSiteUnreachable, rootErr)
	}
	return c.urls, nil
}

// walkSitemaps collects pages from robots.txt sitemaps and /sitemap.xml,
// descending into sitemap indexes. It reports whether any sitemap parsed.
func (e *SiteEnumerator) walkSitemaps(ctx context.Context, root *url.URL, c *collector) bool {
	origin := &url.URL{Scheme: root.Scheme, Host: root.Host}

	queue := []string{}
	if body, _, err := e.get(ctx, origin.JoinPath("robots.txt").String()); err == nil {
		queue = append(queue, robotsSitemaps(bytes.NewReader(body))...)
	}
	queue = append(queue, origin.JoinPath("sitemap.xml").String())

	seen := make(map[string]bool)
	found := false
	for len(queue) > 0 && len(seen) < maxSitemaps && !c.full() {
		loc := queue[0]
		queue = queue[1:]

		u, err := root.Parse(loc)
		if err != nil || !sameHost(root, u) || seen[u.String()] {
			continue
		}
		seen[u.String()] = true

		body, _, err := e.get(ctx, u.String())
		if err != nil {
			continue
		}
		pages, children, err := parseSitemap(body)
		if err != nil {
			slog.Debug("skipping sitemap", "url", u.String(), "error", err)
			continue
		}
		found = true
		for _, p := range pages {
			c.add(root, p)
		}
		queue = append(queue, children...)
	}
	return found
}

// crawl visits collected pages in order and adds the same-host links they
// contain until the collector is full. It returns the error of loading the
// root page, if any.
func (e *SiteEnumerator) crawl(ctx context.Context, c *collector) error {
	var rootErr error
	for i := 0; i < len(c.urls) && !c.full(); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page := c.urls[i]
		body, contentType, err := e.get(ctx, page)
		if err != nil {
			if i == 0 {
				rootErr = err
			}
			continue
		}
		if !isHTML(contentType) {
			continue
		}

		base, _ := url.Parse(page)
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			continue
		}
		if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
			if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
				base = b
			}
		}
		doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			c.add(base, href)
			return !c.full()
		})
	}
	return rootErr
}

func (e *SiteEnumerator) get(ctx context.Context, u string) ([]byte, string, error) {
	if e.limiter != nil {
		if err := e.limiter.WaitURL(ctx, u); err != nil {
			return nil, "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("GET %s: %w", u, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// collector accumulates distinct same-host page URLs up to a limit.
type collector struct {
	root  *url.URL
	limit int
	seen  map[string]bool
	urls  []string
}

func newCollector(root *url.URL, limit int) *collector {
	return &collector{root: root, limit: limit, seen: make(map[string]bool), urls: []string{}}
}

func (c *collector) full() bool {
	return len(c.urls) >= c.limit
}

// add resolves ref against base and keeps it if it is a new same-host page.
func (c *collector) add(base *url.URL, ref string) {
	if c.full() {
		return
	}
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil || !sameHost(c.root, u) {
		return
	}
	if skippedExtensions[strings.ToLower(path.Ext(u.Path))] {
		return
	}
	normalized, err := models.NewScanURL(u.String())
	if err != nil || c.seen[normalized] {
		return
	}
	c.seen[normalized] = true
	c.urls = append(c.urls, normalized)
}

func sameHost(root, u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && strings.EqualFold(root.Hostname(), u.Hostname())
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "text/html" || mt == "application/xhtml+xml")
}
