// Package handler implements the HTTP handlers of the scan API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mw "github.com/kiranshivaraju/cookiehunter/internal/api/middleware"
	"github.com/kiranshivaraju/cookiehunter/internal/api/response"
	"github.com/kiranshivaraju/cookiehunter/internal/cache"
	"github.com/kiranshivaraju/cookiehunter/internal/scanner"
	"github.com/kiranshivaraju/cookiehunter/pkg/models"
)

// ScanRunner drives scan jobs.
type ScanRunner interface {
	StartScan(ctx context.Context, req scanner.StartRequest) (*models.ProgressReport, error)
	AdvanceScan(ctx context.Context, jobID int64) (*models.ProgressReport, error)
	StopScan(ctx context.Context, jobID int64) (*models.ProgressReport, error)
	Reset(ctx context.Context) error
}

// Locker serializes writers of a scan job.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*cache.Lock, error)
	ReleaseLock(ctx context.Context, lock *cache.Lock) error
}

// LockConfig names the locker and lock lifetime for mutating handlers. A nil
// Locker runs them unlocked.
type LockConfig struct {
	Locker Locker
	TTL    time.Duration
}

var (
	_ ScanRunner = (*scanner.Scanner)(nil)
	_ ScanReader = (*scanner.Scanner)(nil)
	_ Locker     = (*cache.RedisCache)(nil)
)

type startScanRequest struct {
	SiteRoot    string `json:"site_root"`
	KeepRecords *bool  `json:"keep_records"`
	MaxPages    int    `json:"max_pages"`
}

// NewStartScanHandler returns an http.HandlerFunc for POST /api/v1/scans.
func NewStartScanHandler(svc ScanRunner, lc LockConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startScanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.SiteRoot == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "site_root is required", nil)
			return
		}
		if req.MaxPages < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "max_pages must not be negative", nil)
			return
		}

		clientIP, _ := mw.GetClientIP(r)
		var report *models.ProgressReport
		err := lc.run(r.Context(), func(ctx context.Context) error {
			var err error
			report, err = svc.StartScan(ctx, scanner.StartRequest{
				SiteRoot:    req.SiteRoot,
				ClientIP:    clientIP,
				KeepRecords: req.KeepRecords,
				MaxPages:    req.MaxPages,
			})
			return err
		}, cache.ScanLockAllKey)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, report)
	}
}

// NewAdvanceScanHandler returns an http.HandlerFunc for
// POST /api/v1/scans/{jobID}/advance.
func NewAdvanceScanHandler(svc ScanRunner, lc LockConfig) http.HandlerFunc {
	return jobStep(lc, svc.AdvanceScan)
}

// NewStopScanHandler returns an http.HandlerFunc for
// POST /api/v1/scans/{jobID}/stop.
func NewStopScanHandler(svc ScanRunner, lc LockConfig) http.HandlerFunc {
	return jobStep(lc, svc.StopScan)
}

// jobStep runs step under the global lock and then the job's own lock, so a
// step never overlaps a purge started by a reset or a non-retaining start.
func jobStep(lc LockConfig, step func(context.Context, int64) (*models.ProgressReport, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := jobIDParam(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		var report *models.ProgressReport
		err = lc.run(r.Context(), func(ctx context.Context) error {
			var err error
			report, err = step(ctx, jobID)
			return err
		}, cache.ScanLockAllKey, cache.ScanLockKey(jobID))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, report)
	}
}

// NewResetHandler returns an http.HandlerFunc for DELETE /api/v1/scans.
func NewResetHandler(svc ScanRunner, lc LockConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := lc.run(r.Context(), svc.Reset, cache.ScanLockAllKey); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// run calls fn while holding every key, acquired in order and released in
// reverse. A held lock yields cache.ErrLockHeld; a lock backend failure is
// reported as a storage error.
func (lc LockConfig) run(ctx context.Context, fn func(context.Context) error, keys ...string) error {
	if lc.Locker == nil {
		return fn(ctx)
	}

	for _, key := range keys {
		lock, err := lc.Locker.AcquireLock(ctx, key, lc.TTL)
		if err != nil {
			if errors.Is(err, cache.ErrLockHeld) {
				return err
			}
			return fmt.Errorf("%w: acquire lock: %v", scanner.ErrStorage, err)
		}
		defer func() {
			if err := lc.Locker.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
				slog.Warn("failed to release scan lock", "key", lock.Key, "error", err)
			}
		}()
	}

	return fn(ctx)
}
