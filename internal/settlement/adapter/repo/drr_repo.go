package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

type DRRRepo struct{}

func NewDRRRepo() *DRRRepo {
	return &DRRRepo{}
}

func (r *DRRRepo) FindByID(ctx context.Context, db *gorm.DB, id uint, forUpdate bool) (*domain.DailyRevenueRecord, error) {
	var rec domain.DailyRevenueRecord
	if err := lockFor(db.WithContext(ctx), forUpdate).First(&rec, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("drr %d", id))
	}
	return &rec, nil
}

func (r *DRRRepo) List(ctx context.Context, db *gorm.DB, f domain.DRRFilter) ([]domain.DailyRevenueRecord, error) {
	q := db.WithContext(ctx).Model(&domain.DailyRevenueRecord{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PublisherID != 0 {
		q = q.Where("publisher_id = ?", f.PublisherID)
	}
	if f.Month != "" {
		start, end, err := monthRange(f.Month)
		if err != nil {
			return nil, err
		}
		q = q.Where("start_date >= ? AND start_date < ?", start, end)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []domain.DailyRevenueRecord
	err := q.Order("start_date desc, id desc").Limit(limit).Offset(f.Offset).Find(&out).Error
	return out, err
}

func (r *DRRRepo) Create(ctx context.Context, db *gorm.DB, rec *domain.DailyRevenueRecord) error {
	if rec.Version == 0 {
		rec.Version = 1
	}
	return translate(db.WithContext(ctx).Omit(clause.Associations).Create(rec).Error, "drr")
}

// Save 实现乐观锁更新
// SQL: UPDATE daily_revenue_records SET ..., version = version + 1 WHERE id = ? AND version = ?
func (r *DRRRepo) Save(ctx context.Context, db *gorm.DB, rec *domain.DailyRevenueRecord) error {
	// 注意：必须使用传入的 tx (事务会话)
	old := rec.Version
	rec.Version = old + 1

	result := db.WithContext(ctx).Model(rec).
		Where("version = ?", old).
		Select("*").Omit("created_at").
		Updates(rec)
	if result.Error != nil {
		rec.Version = old
		return translate(result.Error, fmt.Sprintf("drr %d", rec.ID))
	}

	// 关键点：如果没有行被更新，说明 version 不匹配（被别人改过了）
	if result.RowsAffected == 0 {
		rec.Version = old
		return fmt.Errorf("drr %d: %w", rec.ID, domain.ErrConcurrentUpdate)
	}
	return nil
}

func (r *DRRRepo) Delete(ctx context.Context, db *gorm.DB, id uint) error {
	db = db.WithContext(ctx)

	var refs int64
	if err := db.Model(&domain.Validation{}).Where("drr_id = ?", id).Count(&refs).Error; err != nil {
		return err
	}
	if refs == 0 {
		if err := db.Model(&domain.Invoice{}).Where("drr_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
	}
	if refs > 0 {
		return fmt.Errorf("drr %d is referenced by a validation or invoice: %w", id, domain.ErrRecordInUse)
	}

	result := db.Delete(&domain.DailyRevenueRecord{}, id)
	if result.Error != nil {
		return translate(result.Error, fmt.Sprintf("drr %d", id))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("drr %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// monthRange YYYY-MM -> [月初, 下月初)
func monthRange(month string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, domain.InvalidInput("month %q must be YYYY-MM", month)
	}
	return start, start.AddDate(0, 1, 0), nil
}
