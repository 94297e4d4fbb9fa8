package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

// CreateDRR 录入日收入记录，初始状态 active，派生字段立即计算
func (o *Orchestrator) CreateDRR(ctx context.Context, actor string, in DRRInput) (*domain.DailyRevenueRecord, error) {
	o.warnActor("create_drr", actor)
	if err := o.checkDRRInput(in); err != nil {
		return nil, err
	}

	rec := &domain.DailyRevenueRecord{Status: domain.DRRActive}
	assignDRR(rec, in)
	o.calc.Apply(rec)

	if err := o.repos.DRRs.Create(ctx, o.db, rec); err != nil {
		return nil, fmt.Errorf("create drr: %w", err)
	}
	o.logger.Info("drr created",
		zap.Uint("drr_id", rec.ID),
		zap.String("campaign", rec.CampaignName),
		zap.String("revenue", rec.Revenue.StringFixed(2)),
		zap.String("payout", rec.Payout.StringFixed(2)),
		zap.String("actor", actor),
	)
	return rec, nil
}

// UpdateDRR 修改投放数据，只允许在 active / paused / completed 状态
func (o *Orchestrator) UpdateDRR(ctx context.Context, actor string, id uint, in DRRInput) (*domain.DailyRevenueRecord, error) {
	o.warnActor("update_drr", actor)
	if err := o.checkDRRInput(in); err != nil {
		return nil, err
	}

	var rec *domain.DailyRevenueRecord
	err := o.locked(ctx, drrLockKey(id), func() error {
		return o.inTx(ctx, func(tx *gorm.DB) error {
			var err error
			rec, err = o.repos.DRRs.FindByID(ctx, tx, id, true)
			if err != nil {
				return err
			}
			if !rec.Status.Editable() {
				return fmt.Errorf("drr %d is %s and can no longer be edited: %w", id, rec.Status, domain.ErrInvalidTransition)
			}
			// 已有 Validation (驳回后) 时发布商被固定，与 Validation 保持一致
			if in.PublisherID != rec.PublisherID {
				v, err := o.repos.Validations.FindByDRR(ctx, tx, id)
				switch {
				case err == nil:
					return domain.InvalidInput("publisher of drr %d is fixed by validation %d", id, v.ID)
				case !isNotFound(err):
					return err
				}
			}
			assignDRR(rec, in)
			o.calc.Apply(rec)
			return o.repos.DRRs.Save(ctx, tx, rec)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("update drr %d: %w", id, err)
	}
	return rec, nil
}

// DeleteDRR 被 Validation / Invoice 引用时拒绝删除
func (o *Orchestrator) DeleteDRR(ctx context.Context, actor string, id uint) error {
	o.warnActor("delete_drr", actor)
	err := o.locked(ctx, drrLockKey(id), func() error {
		return o.inTx(ctx, func(tx *gorm.DB) error {
			return o.repos.DRRs.Delete(ctx, tx, id)
		})
	})
	if err != nil {
		return fmt.Errorf("delete drr %d: %w", id, err)
	}
	o.logger.Info("drr deleted", zap.Uint("drr_id", id), zap.String("actor", actor))
	return nil
}

// ImportRows 导入已解析的行，逐行独立成功或失败
func (o *Orchestrator) ImportRows(ctx context.Context, actor string, rows []ImportRow) []ImportResult {
	results := make([]ImportResult, 0, len(rows))
	for i, row := range rows {
		res := ImportResult{Row: i + 1}
		var (
			rec *domain.DailyRevenueRecord
			err error
		)
		if row.ID != 0 {
			res.Action = "updated"
			rec, err = o.UpdateDRR(ctx, actor, row.ID, row.DRRInput)
		} else {
			res.Action = "created"
			rec, err = o.CreateDRR(ctx, actor, row.DRRInput)
		}
		if err != nil {
			res.Action = "failed"
			res.Error = err.Error()
			o.logger.Warn("import row rejected", zap.Int("row", res.Row), zap.Error(err))
		} else {
			res.ID = rec.ID
		}
		results = append(results, res)
	}
	return results
}

// PauseDRR active -> paused
func (o *Orchestrator) PauseDRR(ctx context.Context, actor string, id uint) (*domain.DailyRevenueRecord, error) {
	return o.moveDRR(ctx, actor, id, domain.DRRPaused, domain.DRRActive)
}

// ResumeDRR paused -> active
func (o *Orchestrator) ResumeDRR(ctx context.Context, actor string, id uint) (*domain.DailyRevenueRecord, error) {
	return o.moveDRR(ctx, actor, id, domain.DRRActive, domain.DRRPaused)
}

// CompleteDRR active | paused -> completed
func (o *Orchestrator) CompleteDRR(ctx context.Context, actor string, id uint) (*domain.DailyRevenueRecord, error) {
	return o.moveDRR(ctx, actor, id, domain.DRRCompleted, domain.DRRActive, domain.DRRPaused)
}

// moveDRR 运营侧状态切换，from 限定允许的起始状态
func (o *Orchestrator) moveDRR(ctx context.Context, actor string, id uint, target domain.DRRStatus, from ...domain.DRRStatus) (*domain.DailyRevenueRecord, error) {
	o.warnActor("move_drr_"+string(target), actor)

	var rec *domain.DailyRevenueRecord
	err := o.locked(ctx, drrLockKey(id), func() error {
		return o.inTx(ctx, func(tx *gorm.DB) error {
			var err error
			rec, err = o.repos.DRRs.FindByID(ctx, tx, id, true)
			if err != nil {
				return err
			}
			allowed := false
			for _, s := range from {
				allowed = allowed || rec.Status == s
			}
			if !allowed {
				return &domain.TransitionError{Entity: "drr", ID: id, From: string(rec.Status), To: string(target)}
			}
			if err := rec.MoveTo(target); err != nil {
				return err
			}
			o.calc.Apply(rec)
			return o.repos.DRRs.Save(ctx, tx, rec)
		})
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("drr status changed", zap.Uint("drr_id", id), zap.String("status", string(target)), zap.String("actor", actor))
	return rec, nil
}

// GetDRR 按 ID 读取
func (o *Orchestrator) GetDRR(ctx context.Context, id uint) (*domain.DailyRevenueRecord, error) {
	return o.repos.DRRs.FindByID(ctx, o.db, id, false)
}

// ListDRRs 供报表方读取
func (o *Orchestrator) ListDRRs(ctx context.Context, filter domain.DRRFilter) ([]domain.DailyRevenueRecord, error) {
	return o.repos.DRRs.List(ctx, o.db, filter)
}

func (o *Orchestrator) checkDRRInput(in DRRInput) error {
	if err := o.check(in); err != nil {
		return err
	}
	if in.EndDate != nil && dateOnly(*in.EndDate).Before(dateOnly(in.StartDate)) {
		return domain.InvalidInput("end date %s is before start date %s",
			in.EndDate.Format("2006-01-02"), in.StartDate.Format("2006-01-02"))
	}
	return nil
}

// assignDRR 只写入录入字段，派生字段交给 RevenueCalculator
func assignDRR(rec *domain.DailyRevenueRecord, in DRRInput) {
	rec.AdvertiserID = in.AdvertiserID
	rec.PublisherID = in.PublisherID
	rec.CampaignName = in.CampaignName
	rec.Geo = in.Geo
	rec.MMP = in.MMP
	rec.AccountManager = in.AccountManager
	rec.StartDate = dateOnly(in.StartDate)
	rec.EndDate = nil
	if in.EndDate != nil {
		end := dateOnly(*in.EndDate)
		rec.EndDate = &end
	}
	rec.AdvertiserConversions = in.AdvertiserConversions
	rec.CampaignRevenueRate = in.CampaignRevenueRate
	rec.AdvertiserRevenue = in.AdvertiserRevenue
	rec.PublisherConversions = in.PublisherConversions
	rec.PublisherPayoutRate = in.PublisherPayoutRate
	rec.PublisherRevenue = in.PublisherRevenue
	rec.ConversionsPostbacks = in.ConversionsPostbacks
	rec.PID = in.PID
	rec.AFPRT = in.AFPRT
	rec.PayableEventName = in.PayableEventName
}

// isNotFound ErrNotFound 判定
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
