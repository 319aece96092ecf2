// Package scanner drives cookie scan jobs. A scan is started once and then
// advanced batch by batch through repeated short calls; all progress lives in
// the store, so a job resumes correctly after a restart.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/kiranshivaraju/cookiehunter/internal/store"
	"github.com/kiranshivaraju/cookiehunter/pkg/models"
	"golang.org/x/sync/errgroup"
)

var (
	ErrLocalEnvironment = errors.New("scanning will not work on local server")
	ErrTablesMissing    = errors.New("scanner tables are missing")
	ErrInvalidState     = errors.New("scan job cannot be resumed")
	ErrEnumeration      = errors.New("page enumeration failed")

	ErrNotFound = store.ErrNotFound
	ErrStorage  = store.ErrStorage
)

// Enumerator lists the pages of a site, root first.
type Enumerator interface {
	Enumerate(ctx context.Context, siteRoot string, maxPages int) ([]string, error)
}

// Fetcher reports the cookies a page sets.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]models.RawCookie, error)
}

// Config holds the scan policy.
type Config struct {
	BatchSize        int
	MaxPages         int
	KeepRecords      bool
	FetchConcurrency int
}

// StartRequest describes a new scan. A nil KeepRecords uses the configured
// retention policy; a zero MaxPages uses the configured page limit.
type StartRequest struct {
	SiteRoot    string
	ClientIP    string
	KeepRecords *bool
	MaxPages    int
}

// Scanner is the scan orchestrator and query facade. It holds no job state of
// its own and is safe for concurrent use.
type Scanner struct {
	store    store.Store
	enum     Enumerator
	fetcher  Fetcher
	declared DeclaredSource
	cfg      Config
}

// New creates a Scanner. Non-positive config values fall back to defaults.
func New(s store.Store, enum Enumerator, fetcher Fetcher, declared DeclaredSource, cfg Config) *Scanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}
	return &Scanner{store: s, enum: enum, fetcher: fetcher, declared: declared, cfg: cfg}
}

// StartScan enumerates the site, creates a job and stores its URLs. No
// cookies are fetched yet. Preconditions are checked before any write.
func (s *Scanner) StartScan(ctx context.Context, req StartRequest) (*models.ProgressReport, error) {
	if err := s.requireTables(ctx); err != nil {
		return nil, err
	}
	if IsLoopback(req.ClientIP) {
		return nil, ErrLocalEnvironment
	}
	siteRoot, err := models.NewScanURL(req.SiteRoot)
	if err != nil {
		return nil, err
	}

	maxPages := s.cfg.MaxPages
	if req.MaxPages > 0 && req.MaxPages < maxPages {
		maxPages = req.MaxPages
	}
	keep := s.cfg.KeepRecords
	if req.KeepRecords != nil {
		keep = *req.KeepRecords
	}

	urls, err := s.enum.Enumerate(ctx, siteRoot, maxPages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
	}
	if len(urls) > maxPages {
		urls = urls[:maxPages]
	}

	jobID, err := s.store.CreateJob(ctx, store.NewJob{TotalURL: len(urls), KeepRecords: keep})
	if err != nil {
		return nil, err
	}

	if _, err := s.store.InsertURLs(ctx, jobID, urls); err != nil {
		if stopErr := s.store.UpdateJob(ctx, jobID,
			store.WithStatus(models.ScanStatusStopped),
			store.WithCurrentAction(models.ActionStopped)); stopErr != nil {
			slog.Warn("failed to stop job after url insert failure", "job_id", jobID, "error", stopErr)
		}
		if errors.Is(err, ErrStorage) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: insert urls: %v", ErrStorage, err)
	}

	if err := s.store.UpdateJob(ctx, jobID, store.WithCurrentAction(models.ActionScanning)); err != nil {
		slog.Warn("failed to update job action", "job_id", jobID, "error", err)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	slog.Info("scan started", "job_id", jobID, "site_root", siteRoot, "total_urls", len(urls), "keep_records", keep)
	return models.ReportFor(job), nil
}

// AdvanceScan processes the next batch of a job. Every URL in the batch
// consumes offset whether or not its fetch succeeded. When no URLs remain
// the job is marked Completed.
func (s *Scanner) AdvanceScan(ctx context.Context, jobID int64) (*models.ProgressReport, error) {
	if err := s.requireTables(ctx); err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ScanStatusIncomplete {
		return nil, fmt.Errorf("%w: job %d is %q", ErrInvalidState, jobID, statusName(job.Status))
	}

	batch, _, err := s.store.ListURLs(ctx, jobID, job.CurrentOffset, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	if len(batch) == 0 {
		return s.complete(ctx, job)
	}

	found := s.fetchBatch(ctx, jobID, batch)

	written := 0
	discovered := []string{}
	ids := make([]int64, 0, len(batch))
	for i, u := range batch {
		ids = append(ids, u.ID)
		res, err := s.store.InsertCookiesForURL(ctx, jobID, u.ID, u.URL, found[i])
		if errors.Is(err, ErrNotFound) {
			slog.Warn("url vanished while recording cookies", "job_id", jobID, "url_id", u.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		written += len(res.Names)
		discovered = append(discovered, res.Lines()...)
	}

	if err := s.store.MarkURLsScanned(ctx, jobID, ids); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		slog.Warn("some urls could not be marked scanned", "job_id", jobID, "error", err)
	}

	job.CurrentOffset += len(batch)
	job.TotalCookies += written
	job.CurrentAction = models.ActionScanning

	err = s.store.UpdateJob(ctx, jobID,
		store.WithStatus(models.ScanStatusIncomplete),
		store.WithCurrentOffset(job.CurrentOffset),
		store.WithTotalCookies(job.TotalCookies),
		store.WithCurrentAction(models.ActionScanning))
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		// Stopped while the batch ran: keep the progress, leave the status alone.
		if err := s.store.UpdateJob(ctx, jobID,
			store.WithCurrentOffset(job.CurrentOffset),
			store.WithTotalCookies(job.TotalCookies)); err != nil {
			slog.Warn("failed to record batch progress", "job_id", jobID, "error", err)
		}
		if fresh, err := s.store.GetJob(ctx, jobID); err == nil {
			job = fresh
		}
	case errors.Is(err, ErrNotFound):
		slog.Warn("job vanished while recording progress", "job_id", jobID)
		return nil, fmt.Errorf("%w: job %d purged during batch", ErrNotFound, jobID)
	case err != nil:
		return nil, err
	}

	slog.Info("scan batch processed",
		"job_id", jobID,
		"processed", len(batch),
		"offset", job.CurrentOffset,
		"cookies_written", written,
	)

	report := models.ReportFor(job)
	report.Processed = len(batch)
	report.Discovered = discovered
	return report, nil
}

// fetchBatch fetches every URL of the batch with bounded parallelism. A
// failed fetch yields no cookies. Results are indexed like batch.
func (s *Scanner) fetchBatch(ctx context.Context, jobID int64, batch []*models.ScanURL) [][]models.RawCookie {
	found := make([][]models.RawCookie, len(batch))

	var g errgroup.Group
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, u := range batch {
		g.Go(func() error {
			cookies, err := s.fetcher.Fetch(ctx, u.URL)
			if err != nil {
				slog.Warn("page fetch failed", "job_id", jobID, "url", u.URL, "error", err)
				return nil
			}
			found[i] = validCookies(jobID, u.URL, cookies)
			return nil
		})
	}
	_ = g.Wait()
	return found
}

func validCookies(jobID int64, pageURL string, raw []models.RawCookie) []models.RawCookie {
	out := make([]models.RawCookie, 0, len(raw))
	for _, r := range raw {
		c, err := models.NewRawCookie(r)
		if err != nil {
			slog.Warn("dropping invalid cookie", "job_id", jobID, "url", pageURL, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *Scanner) complete(ctx context.Context, job *models.ScanJob) (*models.ProgressReport, error) {
	err := s.store.UpdateJob(ctx, job.ID,
		store.WithStatus(models.ScanStatusCompleted),
		store.WithCurrentAction(models.ActionCompleted))
	if errors.Is(err, store.ErrInvalidTransition) {
		return nil, fmt.Errorf("%w: job %d is no longer running", ErrInvalidState, job.ID)
	}
	if err != nil {
		return nil, err
	}

	job.Status = models.ScanStatusCompleted
	job.CurrentAction = models.ActionCompleted
	slog.Info("scan completed", "job_id", job.ID, "total_urls", job.CurrentOffset, "total_cookies", job.TotalCookies)
	return models.ReportFor(job), nil
}

// StopScan marks a job Stopped. Stopping a job that already finished is a
// no-op returning its current report.
func (s *Scanner) StopScan(ctx context.Context, jobID int64) (*models.ProgressReport, error) {
	if err := s.requireTables(ctx); err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return models.ReportFor(job), nil
	}

	err = s.store.UpdateJob(ctx, jobID,
		store.WithStatus(models.ScanStatusStopped),
		store.WithCurrentAction(models.ActionStopped))
	if errors.Is(err, store.ErrInvalidTransition) {
		return s.CurrentProgress(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}

	job.Status = models.ScanStatusStopped
	job.CurrentAction = models.ActionStopped
	slog.Info("scan stopped", "job_id", jobID, "offset", job.CurrentOffset)
	return models.ReportFor(job), nil
}

// Reset purges every job with its URLs and cookies ("scan again").
func (s *Scanner) Reset(ctx context.Context) error {
	if err := s.requireTables(ctx); err != nil {
		return err
	}
	if err := s.store.PurgeAll(ctx); err != nil {
		return err
	}
	slog.Info("scan history purged")
	return nil
}

func (s *Scanner) requireTables(ctx context.Context) error {
	ready, err := s.store.TablesReady(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return ErrTablesMissing
	}
	return nil
}

// IsLoopback reports whether ip is a loopback address. Empty or unparseable
// values count as loopback.
func IsLoopback(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return true
	}
	return addr.Unmap().IsLoopback()
}

func statusName(s models.ScanStatus) string {
	if label := s.Label(); label != "" {
		return label
	}
	return "Not started"
}
