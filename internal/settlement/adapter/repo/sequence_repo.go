package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

// SequenceRepo 发票号预留
// 取代 "count + 1" 的读后写：UPDATE 在事务内持有行锁直到提交
type SequenceRepo struct{}

func NewSequenceRepo() *SequenceRepo {
	return &SequenceRepo{}
}

// Next SQL: UPDATE invoice_sequences SET last_value = last_value + 1 WHERE party_type = ?
func (r *SequenceRepo) Next(ctx context.Context, db *gorm.DB, party domain.PartyType) (int64, error) {
	db = db.WithContext(ctx)

	result := db.Model(&domain.InvoiceSequence{}).
		Where("party_type = ?", party).
		Updates(map[string]interface{}{
			"last_value": gorm.Expr("last_value + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected == 0 {
		// 序列行不存在 (未执行 Seed)：以现有发票数为起点
		if err := seedParty(db, party); err != nil {
			return 0, err
		}
		return r.Next(ctx, db, party)
	}

	var seq domain.InvoiceSequence
	if err := db.Where("party_type = ?", party).First(&seq).Error; err != nil {
		return 0, err
	}
	return seq.LastValue, nil
}

// SeedSequences 为每个参与方建立序列行，已存在则跳过
func SeedSequences(ctx context.Context, db *gorm.DB) error {
	for _, party := range []domain.PartyType{domain.PartyPublisher, domain.PartyAdvertiser} {
		if err := seedParty(db.WithContext(ctx), party); err != nil {
			return err
		}
	}
	return nil
}

func seedParty(db *gorm.DB, party domain.PartyType) error {
	var count int64
	if err := db.Model(&domain.Invoice{}).Where("party_type = ?", party).Count(&count).Error; err != nil {
		return err
	}
	seq := domain.InvoiceSequence{PartyType: party, LastValue: count, UpdatedAt: time.Now()}
	if err := db.Where(domain.InvoiceSequence{PartyType: party}).FirstOrCreate(&seq).Error; err != nil {
		return fmt.Errorf("seed invoice sequence %s: %w", party, err)
	}
	return nil
}
