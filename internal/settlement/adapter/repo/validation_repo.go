package repo

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

type ValidationRepo struct{}

func NewValidationRepo() *ValidationRepo {
	return &ValidationRepo{}
}

func (r *ValidationRepo) FindByID(ctx context.Context, db *gorm.DB, id uint, forUpdate bool) (*domain.Validation, error) {
	var v domain.Validation
	if err := lockFor(db.WithContext(ctx), forUpdate).First(&v, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("validation %d", id))
	}
	return &v, nil
}

func (r *ValidationRepo) FindByDRR(ctx context.Context, db *gorm.DB, drrID uint) (*domain.Validation, error) {
	var v domain.Validation
	if err := db.WithContext(ctx).Where("drr_id = ?", drrID).First(&v).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("validation for drr %d", drrID))
	}
	return &v, nil
}

// Create drr_id 唯一索引兜底：并发重复提交返回 ErrDuplicateSettlement
func (r *ValidationRepo) Create(ctx context.Context, db *gorm.DB, v *domain.Validation) error {
	err := db.WithContext(ctx).Omit(clause.Associations).Create(v).Error
	return translate(err, fmt.Sprintf("validation for drr %d", v.DRRID))
}

func (r *ValidationRepo) Save(ctx context.Context, db *gorm.DB, v *domain.Validation) error {
	result := db.WithContext(ctx).Model(v).
		Select("*").Omit("created_at", clause.Associations).
		Updates(v)
	if result.Error != nil {
		return translate(result.Error, fmt.Sprintf("validation %d", v.ID))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("validation %d: %w", v.ID, domain.ErrNotFound)
	}
	return nil
}
