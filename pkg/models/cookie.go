package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// UnclassifiedCategory labels cookies whose category is unknown to the catalog.
const UnclassifiedCategory = "Unclassified"

const (
	maxCookieNameLen  = 255
	maxCookieFieldLen = 255
	maxCategoryLen    = 50
)

var (
	ErrInvalidCookie = errors.New("invalid cookie record")
	ErrInvalidURL    = errors.New("invalid scan url")
)

// RawCookie is a cookie as reported by a fetcher for a single page, before it
// is stored. Use NewRawCookie to build one from untrusted input.
type RawCookie struct {
	Name        string `json:"name"        yaml:"name"`
	Domain      string `json:"domain"      yaml:"domain"`
	Duration    string `json:"duration"    yaml:"duration"`
	Type        string `json:"type"        yaml:"type"`
	Category    string `json:"category"    yaml:"category"`
	Description string `json:"description" yaml:"description"`
}

// NewRawCookie trims the fields of c and validates it. An empty category
// becomes UnclassifiedCategory. Domain, duration, type and category are
// clipped to their column widths; an over-long name is rejected.
func NewRawCookie(c RawCookie) (RawCookie, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Duration = strings.TrimSpace(c.Duration)
	c.Domain = strings.TrimSpace(c.Domain)
	c.Type = strings.TrimSpace(c.Type)
	c.Category = strings.TrimSpace(c.Category)
	c.Description = strings.TrimSpace(c.Description)

	if c.Name == "" {
		return RawCookie{}, fmt.Errorf("%w: name is required", ErrInvalidCookie)
	}
	if len(c.Name) > maxCookieNameLen {
		return RawCookie{}, fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidCookie, maxCookieNameLen)
	}
	if c.Category == "" {
		c.Category = UnclassifiedCategory
	}
	c.Domain = clip(c.Domain, maxCookieFieldLen)
	c.Duration = clip(c.Duration, maxCookieFieldLen)
	c.Type = clip(c.Type, maxCookieFieldLen)
	c.Category = clip(c.Category, maxCategoryLen)
	return c, nil
}

// clip truncates s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// NewScanURL validates that raw is an absolute http(s) URL and returns it
// without its fragment and with an empty path written as "/".
func NewScanURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// CookieEntry is one row of the merged cookie list shown to consumers.
type CookieEntry struct {
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Duration    string `json:"duration"`
	Type        string `json:"type"`
	Category    string `json:"category"`
	CategoryID  *int64 `json:"category_id,omitempty"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
	Source      string `json:"source"`
}

// Cookie entry sources.
const (
	SourceScan     = "scan"
	SourceDeclared = "declared"
)

// ProgressReport describes a scan job after a start, advance, stop or status
// call. Processed is the number of URLs handled by the call that produced the
// report; ScannedURLs is the job's cumulative offset.
type ProgressReport struct {
	JobID         int64      `json:"job_id"`
	Status        ScanStatus `json:"status"`
	StatusLabel   string     `json:"status_label"`
	CurrentAction string     `json:"current_action"`
	Processed     int        `json:"processed"`
	ScannedURLs   int        `json:"scanned_urls"`
	TotalURLs     int        `json:"total_urls"`
	TotalCookies  int        `json:"total_cookies"`
	Discovered    []string   `json:"discovered,omitempty"`
}

// ReportFor builds a ProgressReport from the stored state of job.
func ReportFor(job *ScanJob) *ProgressReport {
	return &ProgressReport{
		JobID:         job.ID,
		Status:        job.Status,
		StatusLabel:   job.Status.Label(),
		CurrentAction: job.CurrentAction,
		ScannedURLs:   job.CurrentOffset,
		TotalURLs:     job.TotalURL,
		TotalCookies:  job.TotalCookies,
	}
}
