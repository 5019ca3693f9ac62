package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/accesso/models"
	"github.com/cppla/accesso/storage"
	"github.com/cppla/accesso/utils"
)

const (
	// SweepLockKey names the distributed lock held while a sweep runs.
	SweepLockKey = "accesso:cleanup:lock"
	// SweepLockTTL bounds how long a crashed sweeper can block the next run.
	SweepLockTTL = 10 * time.Minute
	deleteBatch  = 500
)

// SweepReport summarizes one cleanup pass.
type SweepReport struct {
	TextDeleted     int64    `json:"text_deleted"`
	FilesDeleted    int64    `json:"files_deleted"`
	ExternalDeleted int      `json:"external_deleted"`
	ExternalFailed  int      `json:"external_failed"`
	TunnelsDeleted  int64    `json:"tunnels_deleted"`
	URLsDeleted     int64    `json:"urls_deleted"`
	ClicksDeleted   int64    `json:"clicks_deleted"`
	Errors          []string `json:"errors,omitempty"`
	Skipped         bool     `json:"skipped,omitempty"`
}

// Sweeper purges expired rows and their blobs.
type Sweeper struct {
	db    *gorm.DB
	store storage.ObjectStore
	lock  *utils.Locker
}

// NewSweeper creates a Sweeper. A nil locker gets a process-local lock.
func NewSweeper(db *gorm.DB, store storage.ObjectStore, locker *utils.Locker) *Sweeper {
	if locker == nil {
		locker = utils.NewLocker(nil, SweepLockKey, SweepLockTTL)
	}
	return &Sweeper{db: db, store: store, lock: locker}
}

// Sweep deletes everything that expired strictly before now. Each step runs even when
// an earlier one failed; failures are listed in the report. Only one sweep runs at a time;
// a sweep that cannot take the lock returns a skipped report.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) *SweepReport {
	report := &SweepReport{}
	unlock, err := s.lock.TryLock(ctx)
	if err != nil {
		report.Skipped = true
		utils.SweepRuns.WithLabelValues("skipped").Inc()
		utils.Sugar.Infof("cleanup skipped: %v", err)
		return report
	}
	defer unlock()

	now = now.UTC()
	s.sweepTexts(ctx, now, report)
	s.sweepFiles(ctx, now, report)
	s.sweepTunnels(ctx, now, report)
	s.sweepLinks(ctx, now, report)

	utils.SweepDeleted.WithLabelValues("text").Add(float64(report.TextDeleted))
	utils.SweepDeleted.WithLabelValues("file").Add(float64(report.FilesDeleted))
	utils.SweepDeleted.WithLabelValues("tunnel").Add(float64(report.TunnelsDeleted))
	utils.SweepDeleted.WithLabelValues("link").Add(float64(report.URLsDeleted))
	utils.SweepDeleted.WithLabelValues("click").Add(float64(report.ClicksDeleted))
	if len(report.Errors) > 0 {
		utils.SweepRuns.WithLabelValues("partial").Inc()
	} else {
		utils.SweepRuns.WithLabelValues("ok").Inc()
	}

	utils.Sugar.Infow("cleanup finished",
		"text_deleted", report.TextDeleted,
		"files_deleted", report.FilesDeleted,
		"external_deleted", report.ExternalDeleted,
		"external_failed", report.ExternalFailed,
		"tunnels_deleted", report.TunnelsDeleted,
		"urls_deleted", report.URLsDeleted,
		"clicks_deleted", report.ClicksDeleted,
		"errors", len(report.Errors),
	)
	return report
}

func (s *Sweeper) sweepTexts(ctx context.Context, now time.Time, r *SweepReport) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.TextShare{}).Where("expires_at < ?", now).Pluck("id", &ids).Error; err != nil {
		r.fail("text query", err)
		return
	}
	n, err := deleteByIDs(ctx, s.db, &models.TextShare{}, "id", ids)
	r.TextDeleted = n
	if err != nil {
		r.fail("text delete", err)
	}
}

func (s *Sweeper) sweepFiles(ctx context.Context, now time.Time, r *SweepReport) {
	var rows []models.FileShare
	if err := s.db.WithContext(ctx).Select("id", "external_file_id").Where("expires_at < ?", now).Find(&rows).Error; err != nil {
		r.fail("file query", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	ids := make([]uint, 0, len(rows))
	for _, f := range rows {
		ids = append(ids, f.ID)
		if f.ExternalFileID == "" {
			continue
		}
		if err := s.store.Delete(ctx, f.ExternalFileID); err != nil {
			// The row goes anyway; an orphaned blob is preferable to a row that never expires.
			r.ExternalFailed++
			utils.Sugar.Warnf("cleanup: delete blob %s: %v", f.ExternalFileID, err)
			continue
		}
		r.ExternalDeleted++
	}

	n, err := deleteByIDs(ctx, s.db, &models.FileShare{}, "id", ids)
	r.FilesDeleted = n
	if err != nil {
		r.fail("file delete", err)
	}
}

func (s *Sweeper) sweepTunnels(ctx context.Context, now time.Time, r *SweepReport) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.FileTunnel{})
	if res.Error != nil {
		r.fail("tunnel delete", res.Error)
		return
	}
	r.TunnelsDeleted = res.RowsAffected
}

func (s *Sweeper) sweepLinks(ctx context.Context, now time.Time, r *SweepReport) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.ShortURL{}).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).Pluck("id", &ids).Error; err != nil {
		r.fail("link query", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	clicks, err := deleteByIDs(ctx, s.db, &models.URLClick{}, "short_url_id", ids)
	r.ClicksDeleted = clicks
	if err != nil {
		// Keep the links so their clicks are retried next time.
		r.fail("click delete", err)
		return
	}
	n, err := deleteByIDs(ctx, s.db, &models.ShortURL{}, "id", ids)
	r.URLsDeleted = n
	if err != nil {
		r.fail("link delete", err)
	}
}

func (r *SweepReport) fail(step string, err error) {
	utils.Sugar.Errorf("cleanup %s: %v", step, err)
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", step, err))
}

// deleteByIDs deletes rows whose column is in ids, in batches.
func deleteByIDs(ctx context.Context, db *gorm.DB, model interface{}, column string, ids []uint) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += deleteBatch {
		end := min(start+deleteBatch, len(ids))
		res := db.WithContext(ctx).Where(column+" IN ?", ids[start:end]).Delete(model)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}
