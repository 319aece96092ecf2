package scanner

import (
	"context"

	"github.com/kiranshivaraju/cookiehunter/internal/store"
	"github.com/kiranshivaraju/cookiehunter/pkg/models"
)

// Messages reported by ScannerStatus.
const (
	MsgUnavailable = "Unable to load cookie scanner."
	MsgLocalServer = " Scanning will not work on local server."
)

// DeclaredSource supplies cookies known without scanning, such as the
// catalog's declared cookie list.
type DeclaredSource interface {
	DeclaredCookies() []models.RawCookie
}

// Status tells a UI whether scanning is available to the caller.
type Status struct {
	Ready        bool            `json:"ready"`
	ErrorMessage string          `json:"error_message,omitempty"`
	LastScan     *models.ScanJob `json:"last_scan,omitempty"`
}

// CurrentProgress recomputes a job's report from its stored fields.
func (s *Scanner) CurrentProgress(ctx context.Context, jobID int64) (*models.ProgressReport, error) {
	if err := s.requireTables(ctx); err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return models.ReportFor(job), nil
}

// LastScan returns the most recently created job, or ErrNotFound.
func (s *Scanner) LastScan(ctx context.Context) (*models.ScanJob, error) {
	if err := s.requireTables(ctx); err != nil {
		return nil, err
	}
	return s.store.LastJob(ctx)
}

// ScannerStatus reports whether clientIP may start a scan, with the last job
// when one exists.
func (s *Scanner) ScannerStatus(ctx context.Context, clientIP string) Status {
	local := IsLoopback(clientIP)
	ready, err := s.store.TablesReady(ctx)
	if err != nil {
		ready = false
	}

	st := Status{Ready: ready && !local}
	if !st.Ready {
		st.ErrorMessage = MsgUnavailable
		if local {
			st.ErrorMessage += MsgLocalServer
		}
	}
	if ready {
		if job, err := s.store.LastJob(ctx); err == nil {
			st.LastScan = job
		}
	}
	return st
}

// MergedCookieList returns one entry per cookie name: every scanned cookie of
// the retained jobs (first seen wins), then the declared cookies whose names
// no scan has reported.
func (s *Scanner) MergedCookieList(ctx context.Context) ([]models.CookieEntry, error) {
	if err := s.requireTables(ctx); err != nil {
		return nil, err
	}

	scanned, _, err := s.store.ListCookies(ctx, store.CookieFilter{})
	if err != nil {
		return nil, err
	}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	catIDs := make(map[string]int64, len(cats))
	for _, c := range cats {
		catIDs[c.Name] = c.ID
	}

	seen := make(map[string]bool)
	entries := []models.CookieEntry{}
	for _, c := range scanned {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		entries = append(entries, models.CookieEntry{
			Name:        c.Name,
			Domain:      c.Domain,
			Duration:    c.Duration,
			Type:        c.Type,
			Category:    c.Category,
			CategoryID:  c.CategoryID,
			Description: c.Description,
			URL:         c.URL,
			Source:      models.SourceScan,
		})
	}

	if s.declared == nil {
		return entries, nil
	}
	for _, d := range s.declared.DeclaredCookies() {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		entry := models.CookieEntry{
			Name:        d.Name,
			Domain:      d.Domain,
			Duration:    d.Duration,
			Type:        d.Type,
			Category:    d.Category,
			Description: d.Description,
			Source:      models.SourceDeclared,
		}
		if id, ok := catIDs[d.Category]; ok {
			entry.CategoryID = &id
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListURLs pages through a job's URLs in scan order.
func (s *Scanner) ListURLs(ctx context.Context, jobID int64, offset, limit int) ([]*models.ScanURL, int, error) {
	if err := s.requireJob(ctx, jobID); err != nil {
		return nil, 0, err
	}
	return s.store.ListURLs(ctx, jobID, offset, limit)
}

// ListCookies pages through the cookies recorded for a job.
func (s *Scanner) ListCookies(ctx context.Context, jobID int64, offset, limit int) ([]*models.ScanCookie, int, error) {
	if err := s.requireJob(ctx, jobID); err != nil {
		return nil, 0, err
	}
	return s.store.ListCookies(ctx, store.CookieFilter{JobID: &jobID, Offset: offset, Limit: limit})
}

// Categories lists the stored cookie categories.
func (s *Scanner) Categories(ctx context.Context) ([]*models.Category, error) {
	if err := s.requireTables(ctx); err != nil {
		return nil, err
	}
	return s.store.ListCategories(ctx)
}

// Ping checks the store connection.
func (s *Scanner) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Scanner) requireJob(ctx context.Context, jobID int64) error {
	if err := s.requireTables(ctx); err != nil {
		return err
	}
	_, err := s.store.GetJob(ctx, jobID)
	return err
}
