// Package models contains shared data models used across the CookieHunter codebase.
package models

// ScanStatus is the persisted state of a scan job.
type ScanStatus int

const (
	ScanStatusNotStarted ScanStatus = 0
	ScanStatusIncomplete ScanStatus = 1
	ScanStatusCompleted  ScanStatus = 2
	ScanStatusStopped    ScanStatus = 3
)

// Progress labels written to ScanJob.CurrentAction.
const (
	ActionFindingPages = "Finding pages..."
	ActionScanning     = "Scanning pages..."
	ActionCompleted    = "Scanning completed."
	ActionStopped      = "Scanning stopped."
)

var statusLabels = map[ScanStatus]string{
	ScanStatusNotStarted: "",
	ScanStatusIncomplete: "Incomplete",
	ScanStatusCompleted:  "Completed",
	ScanStatusStopped:    "Stopped",
}

// Label returns the display label for the status. NotStarted has none.
func (s ScanStatus) Label() string {
	return statusLabels[s]
}

// Terminal reports whether no further batches may run for a job in this status.
func (s ScanStatus) Terminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusStopped
}

// ScanJob is one end-to-end attempt to crawl a site and record its cookies.
// The scan is driven by repeated AdvanceScan calls; CurrentOffset is the number
// of URLs already processed and is the resume point after an interruption.
type ScanJob struct {
	ID            int64      `db:"id"             json:"id"`
	Status        ScanStatus `db:"status"         json:"status"`
	CreatedAt     int64      `db:"created_at"     json:"created_at"`
	TotalURL      int        `db:"total_url"      json:"total_url"`
	TotalCookies  int        `db:"total_cookies"  json:"total_cookies"`
	CurrentAction string     `db:"current_action" json:"current_action"`
	CurrentOffset int        `db:"current_offset" json:"current_offset"`
}

// ScanURL is one page discovered for a scan job.
type ScanURL struct {
	ID           int64  `db:"id"            json:"id"`
	ScanJobID    int64  `db:"scan_job_id"   json:"scan_job_id"`
	URL          string `db:"url"           json:"url"`
	Scanned      bool   `db:"scanned"       json:"scanned"`
	TotalCookies int    `db:"total_cookies" json:"total_cookies"`
}

// ScanCookie is one cookie observed on one URL within one job. Only the first
// observation of a name within a job is stored.
type ScanCookie struct {
	ID          int64  `db:"id"          json:"id"`
	ScanJobID   int64  `db:"scan_job_id" json:"scan_job_id"`
	ScanURLID   int64  `db:"scan_url_id" json:"scan_url_id"`
	URL         string `db:"url"         json:"url,omitempty"`
	Name        string `db:"name"        json:"name"`
	Domain      string `db:"domain"      json:"domain"`
	Duration    string `db:"duration"    json:"duration"`
	Type        string `db:"type"        json:"type"`
	Category    string `db:"category"    json:"category"`
	CategoryID  *int64 `db:"category_id" json:"category_id,omitempty"`
	Description string `db:"description" json:"description"`
}

// Category is a cookie classification bucket.
type Category struct {
	ID          int64  `db:"id"          json:"id"          yaml:"-"`
	Name        string `db:"name"        json:"name"        yaml:"name"`
	Slug        string `db:"slug"        json:"slug"        yaml:"slug"`
	Description string `db:"description" json:"description" yaml:"description"`
}
