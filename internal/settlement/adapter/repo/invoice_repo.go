package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

type InvoiceRepo struct{}

func NewInvoiceRepo() *InvoiceRepo {
	return &InvoiceRepo{}
}

func orderedLines(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order asc, id asc")
}

func (r *InvoiceRepo) FindByID(ctx context.Context, db *gorm.DB, id uint, forUpdate bool) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := lockFor(db.WithContext(ctx), forUpdate).
		Preload("Lines", orderedLines).
		First(&inv, id).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("invoice %d", id))
	}
	return &inv, nil
}

func (r *InvoiceRepo) ExistsForDRR(ctx context.Context, db *gorm.DB, drrID uint) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Invoice{}).Where("drr_id = ?", drrID).Count(&count).Error
	return count > 0, err
}

func (r *InvoiceRepo) ExistsForValidation(ctx context.Context, db *gorm.DB, validationID uint) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Invoice{}).Where("validation_id = ?", validationID).Count(&count).Error
	return count > 0, err
}

// Create GORM 会自动处理 Invoice -> Lines 的关联插入
func (r *InvoiceRepo) Create(ctx context.Context, db *gorm.DB, inv *domain.Invoice) error {
	err := db.WithContext(ctx).Omit("DRR", "Validation").Create(inv).Error
	return translate(err, fmt.Sprintf("invoice %s", inv.Number))
}

func (r *InvoiceRepo) Save(ctx context.Context, db *gorm.DB, inv *domain.Invoice) error {
	result := db.WithContext(ctx).Model(inv).
		Select("*").Omit("created_at", clause.Associations).
		Updates(inv)
	if result.Error != nil {
		return translate(result.Error, fmt.Sprintf("invoice %d", inv.ID))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("invoice %d: %w", inv.ID, domain.ErrNotFound)
	}
	return nil
}

// ListOverdue due_date < today 且未付款
func (r *InvoiceRepo) ListOverdue(ctx context.Context, db *gorm.DB, today time.Time) ([]domain.Invoice, error) {
	var out []domain.Invoice
	err := db.WithContext(ctx).
		Preload("Lines", orderedLines).
		Where("status <> ? AND due_date < ?", domain.InvoicePaid, today).
		Order("due_date asc, id asc").
		Find(&out).Error
	return out, err
}

func (r *InvoiceRepo) CreateLine(ctx context.Context, db *gorm.DB, l *domain.InvoiceLine) error {
	return translate(db.WithContext(ctx).Create(l).Error, fmt.Sprintf("invoice %d line", l.InvoiceID))
}

func (r *InvoiceRepo) SaveLine(ctx context.Context, db *gorm.DB, l *domain.InvoiceLine) error {
	result := db.WithContext(ctx).Model(l).
		Where("invoice_id = ?", l.InvoiceID).
		Select("*").Omit("created_at").
		Updates(l)
	if result.Error != nil {
		return translate(result.Error, fmt.Sprintf("invoice line %d", l.ID))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("invoice %d line %d: %w", l.InvoiceID, l.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *InvoiceRepo) DeleteLine(ctx context.Context, db *gorm.DB, invoiceID, lineID uint) error {
	result := db.WithContext(ctx).Where("invoice_id = ?", invoiceID).Delete(&domain.InvoiceLine{}, lineID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("invoice %d line %d: %w", invoiceID, lineID, domain.ErrNotFound)
	}
	return nil
}
