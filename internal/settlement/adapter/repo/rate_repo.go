package repo

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

type RateRepo struct {
	db *gorm.DB
}

func NewRateRepo(db *gorm.DB) *RateRepo {
	return &RateRepo{db: db}
}

func (r *RateRepo) List(ctx context.Context) ([]domain.CurrencyRate, error) {
	var out []domain.CurrencyRate
	err := r.db.WithContext(ctx).Order("currency asc").Find(&out).Error
	return out, err
}

// Upsert 批量更新汇率 (currency 冲突时覆盖 rate / last_updated)
func (r *RateRepo) Upsert(ctx context.Context, rates []domain.CurrencyRate) error {
	if len(rates) == 0 {
		return nil
	}
	for i := range rates {
		rates[i].Currency = domain.NormalizeCurrency(rates[i].Currency)
		if rates[i].LastUpdated.IsZero() {
			rates[i].LastUpdated = time.Now()
		}
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "currency"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate", "last_updated"}),
	}).Create(&rates).Error
}

// ==========================================
// CachedRateRepo 汇率读缓存
// ==========================================

const ratesCacheKey = "rates"

// CachedRateRepo 汇率表读多写少，允许短暂陈旧 (只影响参考换算，不影响本位币结算金额)
type CachedRateRepo struct {
	next  domain.RateRepository
	cache *expirable.LRU[string, []domain.CurrencyRate]
}

func NewCachedRateRepo(next domain.RateRepository, size int, ttl time.Duration) *CachedRateRepo {
	if size <= 0 {
		size = 16
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRateRepo{
		next:  next,
		cache: expirable.NewLRU[string, []domain.CurrencyRate](size, nil, ttl),
	}
}

func (c *CachedRateRepo) List(ctx context.Context) ([]domain.CurrencyRate, error) {
	if rates, ok := c.cache.Get(ratesCacheKey); ok {
		return rates, nil
	}
	rates, err := c.next.List(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Add(ratesCacheKey, rates)
	return rates, nil
}

// Upsert 写穿并失效缓存
func (c *CachedRateRepo) Upsert(ctx context.Context, rates []domain.CurrencyRate) error {
	if err := c.next.Upsert(ctx, rates); err != nil {
		return err
	}
	c.cache.Purge()
	return nil
}
