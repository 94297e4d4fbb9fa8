package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/settlement/internal/platform/lock"
	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

// Repositories 结算模块依赖的仓储
type Repositories struct {
	DRRs        domain.DRRRepository
	Validations domain.ValidationRepository
	Invoices    domain.InvoiceRepository
	Sequences   domain.SequenceRepository
	Rates       domain.RateRepository
	Outbox      domain.OutboxRepository
}

// Options 结算策略
type Options struct {
	Tax     domain.TaxPolicy
	DueDays int
}

// Orchestrator 结算编排器
// DRR / Validation / Invoice 之间的所有跨实体状态变更只在这里发生，
// 每个操作: 按 DRR 加锁 -> 开启事务 -> 应用 SettlementEvent -> 保存 -> 写发件箱
type Orchestrator struct {
	db       *gorm.DB // 用于开启事务
	repos    Repositories
	locker   lock.Locker
	logger   *zap.Logger
	calc     domain.RevenueCalculator
	tax      domain.TaxCalculator
	dueDays  int
	validate *validator.Validate
	now      func() time.Time
}

func NewOrchestrator(db *gorm.DB, repos Repositories, locker lock.Locker, logger *zap.Logger, opts Options) *Orchestrator {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Orchestrator{
		db:       db,
		repos:    repos,
		locker:   locker,
		logger:   logger,
		tax:      domain.NewTaxCalculator(opts.Tax),
		dueDays:  opts.DueDays,
		validate: newValidator(),
		now:      time.Now,
	}
}

// newValidator decimal 字段按 float64 参与 gte / gt 校验
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func (o *Orchestrator) check(in interface{}) error {
	if err := o.validate.Struct(in); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make([]string, 0, len(ve))
			for _, fe := range ve {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
			return domain.InvalidInput("%s", strings.Join(fields, ", "))
		}
		return domain.InvalidInput("%v", err)
	}
	return nil
}

// ==========================================
// 锁 / 事务 / 事件记录
// ==========================================

func drrLockKey(id uint) string {
	return fmt.Sprintf("settlement:drr:%d", id)
}

func invoiceLockKey(inv *domain.Invoice) string {
	if inv.DRRID != nil {
		return drrLockKey(*inv.DRRID)
	}
	return fmt.Sprintf("settlement:invoice:%d", inv.ID)
}

// locked 持有 key 对应的锁执行 fn
func (o *Orchestrator) locked(ctx context.Context, key string, fn func() error) error {
	release, err := o.locker.Obtain(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// inTx 开启数据库事务 (The Big Transaction)
func (o *Orchestrator) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return o.db.WithContext(ctx).Transaction(fn)
}

// warnActor 缺少操作人只告警，不阻塞结算
func (o *Orchestrator) warnActor(op, actor string) {
	if strings.TrimSpace(actor) == "" {
		o.logger.Warn("settlement action without actor",
			zap.String("operation", op),
			zap.Error(domain.ErrActorRequired),
		)
	}
}

func (o *Orchestrator) event(kind domain.EventKind, actor string) domain.SettlementEvent {
	return domain.SettlementEvent{Kind: kind, Actor: actor, At: o.now().UTC()}
}

// record 记录已应用的事件 (发件箱 + 日志)，必须在保存之后调用以拿到记录 ID
func (o *Orchestrator) record(ctx context.Context, tx *gorm.DB, s domain.Settlement, evs ...domain.SettlementEvent) error {
	for _, ev := range evs {
		out, err := domain.NewOutboxEvent(ev, s)
		if err != nil {
			return fmt.Errorf("build outbox event: %w", err)
		}
		if err := o.repos.Outbox.Append(ctx, tx, out); err != nil {
			return fmt.Errorf("append outbox event: %w", err)
		}
		fields := []zap.Field{
			zap.String("event", string(ev.Kind)),
			zap.String("event_id", out.ID),
			zap.String("actor", ev.Actor),
		}
		if s.DRR != nil {
			fields = append(fields, zap.Uint("drr_id", s.DRR.ID), zap.String("drr_status", string(s.DRR.Status)))
		}
		if s.Validation != nil {
			fields = append(fields, zap.Uint("validation_id", s.Validation.ID))
		}
		if s.Invoice != nil {
			fields = append(fields, zap.Uint("invoice_id", s.Invoice.ID), zap.String("invoice_number", s.Invoice.Number))
		}
		o.logger.Info("settlement event applied", fields...)
	}
	return nil
}

// saveSettlement 保存事件涉及的已有记录 (DRR 走乐观锁)
func (o *Orchestrator) saveSettlement(ctx context.Context, tx *gorm.DB, s domain.Settlement) error {
	if s.DRR != nil {
		if err := o.repos.DRRs.Save(ctx, tx, s.DRR); err != nil {
			return err
		}
	}
	if s.Validation != nil && s.Validation.ID != 0 {
		if err := o.repos.Validations.Save(ctx, tx, s.Validation); err != nil {
			return err
		}
	}
	if s.Invoice != nil && s.Invoice.ID != 0 {
		if err := o.repos.Invoices.Save(ctx, tx, s.Invoice); err != nil {
			return err
		}
	}
	return nil
}

// ==========================================
// 汇率 (参考换算，永不阻塞结算)
// ==========================================

func (o *Orchestrator) converter(ctx context.Context) *domain.CurrencyConverter {
	rates, err := o.repos.Rates.List(ctx)
	if err != nil {
		o.logger.Warn("currency rates unavailable, converting with fallback", zap.Error(err))
		rates = nil
	}
	return domain.NewCurrencyConverter(o.tax.HomeCurrency(), rates)
}

func (o *Orchestrator) quote(ctx context.Context, amount decimal.Decimal, currency string) domain.Conversion {
	q := o.converter(ctx).Quote(amount, currency)
	if q.UsedFallback {
		o.logger.Warn("currency rate missing, using unconverted amount",
			zap.String("currency", q.Currency),
			zap.String("amount", amount.StringFixed(domain.MoneyPlaces)),
			zap.Error(domain.ErrMissingCurrencyRate),
		)
	}
	return q
}

// ConvertAmount DRR 成本 (本位币) 换算为目标币种，仅供参考
func (o *Orchestrator) ConvertAmount(ctx context.Context, drrID uint, currency string) (domain.Conversion, error) {
	rec, err := o.repos.DRRs.FindByID(ctx, o.db, drrID, false)
	if err != nil {
		return domain.Conversion{}, err
	}
	if domain.NormalizeCurrency(currency) == "" {
		return domain.Conversion{}, domain.InvalidInput("currency is required")
	}
	return o.quote(ctx, rec.Payout, currency), nil
}

// ListRates 当前汇率表
func (o *Orchestrator) ListRates(ctx context.Context) ([]domain.CurrencyRate, error) {
	return o.repos.Rates.List(ctx)
}

// UpsertRates 批量更新汇率 (管理端 / cmd/ratesync)
func (o *Orchestrator) UpsertRates(ctx context.Context, actor string, rates []domain.CurrencyRate) error {
	o.warnActor("upsert_rates", actor)
	now := o.now().UTC()
	for i := range rates {
		code := domain.NormalizeCurrency(rates[i].Currency)
		if len(code) != 3 {
			return domain.InvalidInput("currency code %q must have 3 letters", rates[i].Currency)
		}
		if !rates[i].Rate.GreaterThan(decimal.Zero) {
			return domain.InvalidInput("rate for %s must be positive", code)
		}
		rates[i].Currency = code
		rates[i].LastUpdated = now
	}
	sort.Slice(rates, func(i, j int) bool { return rates[i].Currency < rates[j].Currency })
	if err := o.repos.Rates.Upsert(ctx, rates); err != nil {
		return err
	}
	o.logger.Info("currency rates updated", zap.Int("count", len(rates)), zap.String("actor", actor))
	return nil
}

// dateOnly 截断为 UTC 日期
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
