package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/cookiehunter/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// TablesReady reports whether every table owned by the scanner exists.
func (s *PostgresStore) TablesReady(ctx context.Context) (bool, error) {
	var ready bool
	err := s.pool.QueryRow(ctx,
		`SELECT to_regclass('scan_jobs') IS NOT NULL
		    AND to_regclass('scan_urls') IS NOT NULL
		    AND to_regclass('scan_cookies') IS NOT NULL
		    AND to_regclass('cookie_categories') IS NOT NULL`,
	).Scan(&ready)
	if err != nil {
		return false, storageErr("check tables", err)
	}
	return ready, nil
}

// --- Categories ---

// SeedCategories inserts categories that are not present yet. Existing rows
// are left untouched.
func (s *PostgresStore) SeedCategories(ctx context.Context, categories []models.Category) error {
	if len(categories) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range categories {
		batch.Queue(
			`INSERT INTO cookie_categories (name, slug, description) VALUES ($1, $2, $3)
			 ON CONFLICT (name) DO NOTHING`,
			c.Name, c.Slug, c.Description)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return storageErr("seed categories", err)
	}
	return nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]*models.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, slug, description FROM cookie_categories ORDER BY id ASC`)
	if err != nil {
		return nil, storageErr("list categories", err)
	}
	defer rows.Close()

	var cats []*models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Description); err != nil {
			return nil, storageErr("scan category", err)
		}
		cats = append(cats, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list categories", err)
	}
	return cats, nil
}

// --- Jobs ---

const jobColumns = `id, status, created_at, total_url, total_cookies, current_action, current_offset`

func scanJob(row pgx.Row) (*models.ScanJob, error) {
	var j models.ScanJob
	err := row.Scan(&j.ID, &j.Status, &j.CreatedAt, &j.TotalURL, &j.TotalCookies,
		&j.CurrentAction, &j.CurrentOffset)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob inserts a new Incomplete job. Unless job.KeepRecords is set, all
// previous scan data is purged in the same transaction.
func (s *PostgresStore) CreateJob(ctx context.Context, job NewJob) (int64, error) {
	var id int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if !job.KeepRecords {
			if _, err := tx.Exec(ctx, purgeSQL); err != nil {
				return fmt.Errorf("purge: %w", err)
			}
		}
		return tx.QueryRow(ctx,
			`INSERT INTO scan_jobs (status, created_at, total_url, total_cookies, current_action, current_offset)
			 VALUES ($1, $2, $3, 0, $4, 0)
			 RETURNING id`,
			models.ScanStatusIncomplete, s.now().Unix(), job.TotalURL, models.ActionFindingPages,
		).Scan(&id)
	})
	if err != nil {
		return 0, storageErr("create job", err)
	}
	return id, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.ScanJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scan_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get job", err)
	}
	return j, nil
}

// LastJob returns the most recently created job.
func (s *PostgresStore) LastJob(ctx context.Context) (*models.ScanJob, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scan_jobs ORDER BY id DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get last job", err)
	}
	return j, nil
}

var validTransitions = map[models.ScanStatus][]models.ScanStatus{
	models.ScanStatusNotStarted: {models.ScanStatusIncomplete, models.ScanStatusStopped},
	models.ScanStatusIncomplete: {models.ScanStatusIncomplete, models.ScanStatusCompleted, models.ScanStatusStopped},
}

// UpdateJob applies a partial update. A status change must follow
// NotStarted -> Incomplete -> {Completed, Stopped}; terminal statuses never change.
func (s *PostgresStore) UpdateJob(ctx context.Context, id int64, opts ...JobUpdateOption) error {
	params := NewJobUpdate(opts...)

	return s.inTx(ctx, "update job", func(tx pgx.Tx) error {
		var current models.ScanStatus
		err := tx.QueryRow(ctx, `SELECT status FROM scan_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if params.Status != nil && !slices.Contains(validTransitions[current], *params.Status) {
			return fmt.Errorf("%w: %d -> %d", ErrInvalidTransition, current, *params.Status)
		}

		query := `UPDATE scan_jobs SET id = id`
		args := []any{id}
		argIdx := 2

		set := func(column string, v any) {
			query += fmt.Sprintf(", %s = $%d", column, argIdx)
			args = append(args, v)
			argIdx++
		}
		if params.Status != nil {
			set("status", *params.Status)
		}
		if params.CurrentAction != nil {
			set("current_action", *params.CurrentAction)
		}
		if params.CurrentOffset != nil {
			set("current_offset", *params.CurrentOffset)
		}
		if params.TotalCookies != nil {
			set("total_cookies", *params.TotalCookies)
		}
		if params.TotalURL != nil {
			set("total_url", *params.TotalURL)
		}
		if argIdx == 2 {
			return nil
		}

		_, err = tx.Exec(ctx, query+" WHERE id = $1", args...)
		return err
	})
}

// --- URLs ---

// InsertURLs appends unscanned URLs to a job in one transaction. The returned
// ids are ascending in input order, which defines the scan order.
func (s *PostgresStore) InsertURLs(ctx context.Context, jobID int64, urls []string) ([]int64, error) {
	if len(urls) == 0 {
		return []int64{}, nil
	}

	ids := make([]int64, 0, len(urls))
	err := s.inTx(ctx, "insert urls", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, u := range urls {
			batch.Queue(
				`INSERT INTO scan_urls (scan_job_id, url, scanned, total_cookies)
				 VALUES ($1, $2, FALSE, 0) RETURNING id`, jobID, u)
		}

		br := tx.SendBatch(ctx, batch)
		for range urls {
			var id int64
			if err := br.QueryRow().Scan(&id); err != nil {
				br.Close()
				return err
			}
			ids = append(ids, id)
		}
		return br.Close()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListURLs returns one page of a job's URLs ordered by insertion, plus the
// job's total URL count.
func (s *PostgresStore) ListURLs(ctx context.Context, jobID int64, offset, limit int) ([]*models.ScanURL, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scan_urls WHERE scan_job_id = $1`, jobID,
	).Scan(&total); err != nil {
		return nil, 0, storageErr("count urls", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, scan_job_id, url, scanned, total_cookies
		 FROM scan_urls WHERE scan_job_id = $1
		 ORDER BY id ASC LIMIT $2 OFFSET $3`,
		jobID, limitArg(limit), max(offset, 0))
	if err != nil {
		return nil, 0, storageErr("list urls", err)
	}
	defer rows.Close()

	urls := []*models.ScanURL{}
	for rows.Next() {
		var u models.ScanURL
		if err := rows.Scan(&u.ID, &u.ScanJobID, &u.URL, &u.Scanned, &u.TotalCookies); err != nil {
			return nil, 0, storageErr("scan url", err)
		}
		urls = append(urls, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageErr("list urls", err)
	}
	return urls, total, nil
}

// MarkURLsScanned flags the given URLs of a job as scanned in a single
// statement. If some ids do not belong to the job the update is rolled back
// and ErrNotFound is returned.
func (s *PostgresStore) MarkURLsScanned(ctx context.Context, jobID int64, urlIDs []int64) error {
	if len(urlIDs) == 0 {
		return nil
	}
	return s.inTx(ctx, "mark urls scanned", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE scan_urls SET scanned = TRUE WHERE scan_job_id = $1 AND id = ANY($2)`,
			jobID, urlIDs)
		if err != nil {
			return err
		}
		if n := tag.RowsAffected(); n != int64(len(urlIDs)) {
			return fmt.Errorf("%w: %d of %d urls belong to job %d", ErrNotFound, n, len(urlIDs), jobID)
		}
		return nil
	})
}

// --- Cookies ---

// InsertCookiesForURL records the cookies seen on one URL. Each cookie is
// inserted only if its name is not yet recorded for the job; the category id
// is resolved by exact category name and left NULL (labelled Unclassified)
// when the name is unknown. The URL's total_cookies is set to the number of
// cookies written.
func (s *PostgresStore) InsertCookiesForURL(ctx context.Context, jobID, urlID int64, url string, cookies []models.RawCookie) (*CookieInsertResult, error) {
	result := &CookieInsertResult{URL: url, Names: []string{}}

	err := s.inTx(ctx, "insert cookies", func(tx pgx.Tx) error {
		for _, raw := range cookies {
			c, err := models.NewRawCookie(raw)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx,
				`INSERT INTO scan_cookies (scan_job_id, scan_url_id, name, domain, duration, type, category, category_id, description)
				 SELECT $1::bigint, $2::bigint, $3::varchar, $4::varchar, $5::varchar, $6::varchar,
				        COALESCE(cat.name, $8::varchar), cat.id, $7::text
				 FROM (SELECT 1) AS one
				 LEFT JOIN cookie_categories cat ON cat.name = $9::varchar
				 ON CONFLICT (scan_job_id, name) DO NOTHING`,
				jobID, urlID, c.Name, c.Domain, c.Duration, c.Type, c.Description,
				models.UnclassifiedCategory, c.Category)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 1 {
				result.Names = append(result.Names, c.Name)
			}
		}

		tag, err := tx.Exec(ctx,
			`UPDATE scan_urls SET total_cookies = $3 WHERE id = $1 AND scan_job_id = $2`,
			urlID, jobID, len(result.Names))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: url %d of job %d", ErrNotFound, urlID, jobID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListCookies returns cookies ordered by insertion with their category
// display name and page URL.
func (s *PostgresStore) ListCookies(ctx context.Context, filter CookieFilter) ([]*models.ScanCookie, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scan_cookies WHERE ($1::bigint IS NULL OR scan_job_id = $1)`,
		filter.JobID,
	).Scan(&total); err != nil {
		return nil, 0, storageErr("count cookies", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.scan_job_id, c.scan_url_id, COALESCE(u.url, ''), c.name, c.domain,
		        c.duration, c.type, COALESCE(cat.name, $4), c.category_id, c.description
		 FROM scan_cookies c
		 LEFT JOIN cookie_categories cat ON cat.id = c.category_id
		 LEFT JOIN scan_urls u ON u.id = c.scan_url_id
		 WHERE ($1::bigint IS NULL OR c.scan_job_id = $1)
		 ORDER BY c.id ASC LIMIT $2 OFFSET $3`,
		filter.JobID, limitArg(filter.Limit), max(filter.Offset, 0), models.UnclassifiedCategory)
	if err != nil {
		return nil, 0, storageErr("list cookies", err)
	}
	defer rows.Close()

	cookies := []*models.ScanCookie{}
	for rows.Next() {
		var c models.ScanCookie
		if err := rows.Scan(&c.ID, &c.ScanJobID, &c.ScanURLID, &c.URL, &c.Name, &c.Domain,
			&c.Duration, &c.Type, &c.Category, &c.CategoryID, &c.Description); err != nil {
			return nil, 0, storageErr("scan cookie", err)
		}
		cookies = append(cookies, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageErr("list cookies", err)
	}
	return cookies, total, nil
}

// --- Purge ---

// Identities are not restarted so a stale job id held by a client can never
// address a newer job.
const purgeSQL = `TRUNCATE TABLE scan_cookies, scan_urls, scan_jobs`

// PurgeAll deletes every job with its URLs and cookies. Categories are kept.
func (s *PostgresStore) PurgeAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, purgeSQL); err != nil {
		return storageErr("purge", err)
	}
	return nil
}

// --- helpers ---

// inTx runs fn in a transaction. ErrNotFound, ErrInvalidTransition and
// cookie validation errors pass through; foreign key violations become
// ErrNotFound; everything else is wrapped as ErrStorage.
func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	err := pgx.BeginFunc(ctx, s.pool, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidTransition), errors.Is(err, models.ErrInvalidCookie):
		return err
	case isForeignKeyError(err):
		return fmt.Errorf("%w: %s: %v", ErrNotFound, op, err)
	case isDuplicateKeyError(err):
		return fmt.Errorf("%w: %s: %v", ErrDuplicateKey, op, err)
	default:
		return storageErr(op, err)
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyError checks if a pgx error is a foreign key violation.
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
