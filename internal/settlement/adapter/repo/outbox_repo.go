package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

type OutboxRepo struct {
	db *gorm.DB
}

func NewOutboxRepo(db *gorm.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Append 必须传入业务事务 tx，事件与状态变更同时提交
func (r *OutboxRepo) Append(ctx context.Context, tx *gorm.DB, ev *domain.OutboxEvent) error {
	return tx.WithContext(ctx).Create(ev).Error
}

// FetchUnpublished 按写入顺序 (seq) 返回，同一 DRR 的锁保证 seq 与提交顺序一致
func (r *OutboxRepo) FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	var rows []domain.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("seq asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.OutboxEvent{}).Where("id = ?", id).Update("published_at", at).Error
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.OutboxEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"attempts":      gorm.Expr("attempts + 1"),
		"last_error":    errMsg,
		"last_error_at": at,
	}).Error
}
