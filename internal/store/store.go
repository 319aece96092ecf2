package store

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/cookiehunter/pkg/models"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrDuplicateKey      = errors.New("duplicate key violation")
	ErrStorage           = errors.New("storage error")
	ErrInvalidTransition = errors.New("invalid scan status transition")
)

// Store is the scan repository. All database operations go through here.
// Every read hits the database; nothing is cached in process.
type Store interface {
	Ping(ctx context.Context) error
	TablesReady(ctx context.Context) (bool, error)

	SeedCategories(ctx context.Context, categories []models.Category) error
	ListCategories(ctx context.Context) ([]*models.Category, error)

	CreateJob(ctx context.Context, job NewJob) (int64, error)
	GetJob(ctx context.Context, id int64) (*models.ScanJob, error)
	UpdateJob(ctx context.Context, id int64, opts ...JobUpdateOption) error
	LastJob(ctx context.Context) (*models.ScanJob, error)

	InsertURLs(ctx context.Context, jobID int64, urls []string) ([]int64, error)
	ListURLs(ctx context.Context, jobID int64, offset, limit int) ([]*models.ScanURL, int, error)
	MarkURLsScanned(ctx context.Context, jobID int64, urlIDs []int64) error

	InsertCookiesForURL(ctx context.Context, jobID, urlID int64, url string, cookies []models.RawCookie) (*CookieInsertResult, error)
	ListCookies(ctx context.Context, filter CookieFilter) ([]*models.ScanCookie, int, error)

	PurgeAll(ctx context.Context) error
}

// NewJob holds the parameters for CreateJob. When KeepRecords is false all
// previous jobs, URLs and cookies are purged before the job is inserted.
type NewJob struct {
	TotalURL    int
	KeepRecords bool
}

// CookieFilter selects cookies for ListCookies. A nil JobID lists cookies of
// every retained job. Limit <= 0 means no limit.
type CookieFilter struct {
	JobID  *int64
	Offset int
	Limit  int
}

// CookieInsertResult lists the cookie names InsertCookiesForURL actually wrote.
type CookieInsertResult struct {
	URL   string
	Names []string
}

// Lines renders the result for progress output: the URL followed by one
// indented line per written cookie. Nothing is rendered when no cookie was written.
func (r *CookieInsertResult) Lines() []string {
	if r == nil || len(r.Names) == 0 {
		return nil
	}
	lines := make([]string, 0, len(r.Names)+1)
	lines = append(lines, r.URL)
	for _, n := range r.Names {
		lines = append(lines, "   "+n)
	}
	return lines
}

// JobUpdate is a partial job update; nil fields are left untouched.
type JobUpdate struct {
	Status        *models.ScanStatus
	CurrentAction *string
	CurrentOffset *int
	TotalCookies  *int
	TotalURL      *int
}

type JobUpdateOption func(*JobUpdate)

// NewJobUpdate collects opts into a JobUpdate.
func NewJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithStatus(s models.ScanStatus) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Status = &s
	}
}

func WithCurrentAction(action string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.CurrentAction = &action
	}
}

func WithCurrentOffset(offset int) JobUpdateOption {
	return func(p *JobUpdate) {
		p.CurrentOffset = &offset
	}
}

func WithTotalCookies(n int) JobUpdateOption {
	return func(p *JobUpdate) {
		p.TotalCookies = &n
	}
}

func WithTotalURL(n int) JobUpdateOption {
	return func(p *JobUpdate) {
		p.TotalURL = &n
	}
}
