package scanner_test

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kiranshivaraju/cookiehunter/internal/store"
	"github.com/kiranshivaraju/cookiehunter/pkg/models"
)

// memStore is an in-memory store.Store with the same insert-if-absent and
// transition rules as the Postgres store. writes counts mutating calls.
type memStore struct {
	mu         sync.Mutex
	ready      bool
	nextID     int64
	jobs       map[int64]*models.ScanJob
	urls       []*models.ScanURL
	cookies    []*models.ScanCookie
	categories []*models.Category
	writes     int

	failInsertURLs error
	failTables     error
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	m := &memStore{ready: true, jobs: make(map[int64]*models.ScanJob)}
	for _, name := range []string{"Necessary", "Marketing", "Analytics", "Preferences", "Unclassified"} {
		m.nextID++
		m.categories = append(m.categories, &models.Category{ID: m.nextID, Name: name})
	}
	return m
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) TablesReady(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready, m.failTables
}

func (m *memStore) SeedCategories(_ context.Context, cats []models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	for _, c := range cats {
		if slices.ContainsFunc(m.categories, func(e *models.Category) bool { return e.Name == c.Name }) {
			continue
		}
		c.ID = m.id()
		m.categories = append(m.categories, &c)
	}
	return nil
}

func (m *memStore) ListCategories(context.Context) ([]*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.categories), nil
}

func (m *memStore) CreateJob(_ context.Context, job store.NewJob) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if !job.KeepRecords {
		m.purge()
	}
	id := m.id()
	m.jobs[id] = &models.ScanJob{
		ID:            id,
		Status:        models.ScanStatusIncomplete,
		CreatedAt:     1700000000,
		TotalURL:      job.TotalURL,
		CurrentAction: models.ActionFindingPages,
	}
	return id, nil
}

func (m *memStore) GetJob(_ context.Context, id int64) (*models.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) UpdateJob(_ context.Context, id int64, opts ...store.JobUpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}

	next := *j
	upd := store.NewJobUpdate(opts...)
	if upd.Status != nil {
		allowed := map[models.ScanStatus][]models.ScanStatus{
			models.ScanStatusNotStarted: {models.ScanStatusIncomplete, models.ScanStatusStopped},
			models.ScanStatusIncomplete: {models.ScanStatusIncomplete, models.ScanStatusCompleted, models.ScanStatusStopped},
		}
		if !slices.Contains(allowed[j.Status], *upd.Status) {
			return fmt.Errorf("%w: %d -> %d", store.ErrInvalidTransition, j.Status, *upd.Status)
		}
		next.Status = *upd.Status
	}
	if upd.CurrentAction != nil {
		next.CurrentAction = *upd.CurrentAction
	}
	if upd.CurrentOffset != nil {
		next.CurrentOffset = *upd.CurrentOffset
	}
	if upd.TotalCookies != nil {
		next.TotalCookies = *upd.TotalCookies
	}
	if upd.TotalURL != nil {
		next.TotalURL = *upd.TotalURL
	}
	m.writes++
	*j = next
	return nil
}

func (m *memStore) LastJob(context.Context) (*models.ScanJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *models.ScanJob
	for _, j := range m.jobs {
		if last == nil || j.ID > last.ID {
			last = j
		}
	}
	if last == nil {
		return nil, store.ErrNotFound
	}
	cp := *last
	return &cp, nil
}

func (m *memStore) InsertURLs(_ context.Context, jobID int64, urls []string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertURLs != nil {
		return nil, m.failInsertURLs
	}
	if _, ok := m.jobs[jobID]; !ok {
		return nil, store.ErrNotFound
	}
	m.writes++
	ids := make([]int64, 0, len(urls))
	for _, u := range urls {
		id := m.id()
		m.urls = append(m.urls, &models.ScanURL{ID: id, ScanJobID: jobID, URL: u})
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) ListURLs(_ context.Context, jobID int64, offset, limit int) ([]*models.ScanURL, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.ScanURL
	for _, u := range m.urls {
		if u.ScanJobID == jobID {
			cp := *u
			all = append(all, &cp)
		}
	}
	return page(all, offset, limit), len(all), nil
}

func (m *memStore) MarkURLsScanned(_ context.Context, jobID int64, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	var hits []*models.ScanURL
	for _, u := range m.urls {
		if u.ScanJobID == jobID && slices.Contains(ids, u.ID) {
			hits = append(hits, u)
		}
	}
	if len(hits) != len(ids) {
		return fmt.Errorf("%w: %d of %d urls", store.ErrNotFound, len(hits), len(ids))
	}
	m.writes++
	for _, u := range hits {
		u.Scanned = true
	}
	return nil
}

func (m *memStore) InsertCookiesForURL(_ context.Context, jobID, urlID int64, url string, cookies []models.RawCookie) (*store.CookieInsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := slices.IndexFunc(m.urls, func(u *models.ScanURL) bool { return u.ID == urlID && u.ScanJobID == jobID })
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	m.writes++
	res := &store.CookieInsertResult{URL: url, Names: []string{}}
	for _, raw := range cookies {
		c, err := models.NewRawCookie(raw)
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(m.cookies, func(e *models.ScanCookie) bool { return e.ScanJobID == jobID && e.Name == c.Name }) {
			continue
		}
		sc := &models.ScanCookie{
			ID: m.id(), ScanJobID: jobID, ScanURLID: urlID, URL: url,
			Name: c.Name, Domain: c.Domain, Duration: c.Duration, Type: c.Type,
			Category: models.UnclassifiedCategory, Description: c.Description,
		}
		for _, cat := range m.categories {
			if cat.Name == c.Category {
				id := cat.ID
				sc.CategoryID = &id
				sc.Category = cat.Name
			}
		}
		m.cookies = append(m.cookies, sc)
		res.Names = append(res.Names, c.Name)
	}
	m.urls[idx].TotalCookies = len(res.Names)
	return res, nil
}

func (m *memStore) ListCookies(_ context.Context, f store.CookieFilter) ([]*models.ScanCookie, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.ScanCookie
	for _, c := range m.cookies {
		if f.JobID == nil || c.ScanJobID == *f.JobID {
			cp := *c
			all = append(all, &cp)
		}
	}
	return page(all, f.Offset, f.Limit), len(all), nil
}

func (m *memStore) PurgeAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.purge()
	return nil
}

func (m *memStore) purge() {
	m.jobs = make(map[int64]*models.ScanJob)
	m.urls = nil
	m.cookies = nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}
