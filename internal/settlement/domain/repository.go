package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// 仓储端口 (Port)，adapter/repo 提供 gorm 实现
// 所有方法都接收 db 参数：事务内传 tx，只读查询传根连接

// DRRRepository 日收入记录仓储
type DRRRepository interface {
	// FindByID forUpdate=true 时加行锁 (SELECT ... FOR UPDATE)
	FindByID(ctx context.Context, db *gorm.DB, id uint, forUpdate bool) (*DailyRevenueRecord, error)
	List(ctx context.Context, db *gorm.DB, filter DRRFilter) ([]DailyRevenueRecord, error)
	Create(ctx context.Context, db *gorm.DB, r *DailyRevenueRecord) error
	// Save 带乐观锁版本号，成功后 r.Version 自增
	Save(ctx context.Context, db *gorm.DB, r *DailyRevenueRecord) error
	// Delete 被 Validation / Invoice 引用时返回 ErrRecordInUse
	Delete(ctx context.Context, db *gorm.DB, id uint) error
}

// DRRFilter 列表查询条件 (供报表方读取)
type DRRFilter struct {
	Status      DRRStatus
	PublisherID uint
	Month       string // YYYY-MM
	Limit       int
	Offset      int
}

// ValidationRepository 对账单仓储
type ValidationRepository interface {
	FindByID(ctx context.Context, db *gorm.DB, id uint, forUpdate bool) (*Validation, error)
	// FindByDRR 不存在时返回 ErrNotFound
	FindByDRR(ctx context.Context, db *gorm.DB, drrID uint) (*Validation, error)
	Create(ctx context.Context, db *gorm.DB, v *Validation) error
	Save(ctx context.Context, db *gorm.DB, v *Validation) error
}

// InvoiceRepository 发票及明细仓储
type InvoiceRepository interface {
	// FindByID 预加载明细 (按 sort_order, id 排序)
	FindByID(ctx context.Context, db *gorm.DB, id uint, forUpdate bool) (*Invoice, error)
	ExistsForDRR(ctx context.Context, db *gorm.DB, drrID uint) (bool, error)
	ExistsForValidation(ctx context.Context, db *gorm.DB, validationID uint) (bool, error)
	// Create 同时写入明细
	Create(ctx context.Context, db *gorm.DB, inv *Invoice) error
	// Save 只保存主表
	Save(ctx context.Context, db *gorm.DB, inv *Invoice) error
	ListOverdue(ctx context.Context, db *gorm.DB, today time.Time) ([]Invoice, error)

	CreateLine(ctx context.Context, db *gorm.DB, l *InvoiceLine) error
	SaveLine(ctx context.Context, db *gorm.DB, l *InvoiceLine) error
	DeleteLine(ctx context.Context, db *gorm.DB, invoiceID, lineID uint) error
}

// SequenceRepository 发票号序列
type SequenceRepository interface {
	// Next 原子预留下一个序号，必须在开票事务内调用
	Next(ctx context.Context, db *gorm.DB, party PartyType) (int64, error)
}

// RateRepository 汇率仓储 (读多写少)
type RateRepository interface {
	List(ctx context.Context) ([]CurrencyRate, error)
	Upsert(ctx context.Context, rates []CurrencyRate) error
}

// OutboxRepository 发件箱仓储
type OutboxRepository interface {
	Append(ctx context.Context, db *gorm.DB, ev *OutboxEvent) error
	FetchUnpublished(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error
}
