package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

// SubmitValidation 为 DRR 创建对账单 (Pending)，DRR 同一事务内推进到 validated
// 这是系统里最重要的原子边界：DRR 保存失败则对账单一并回滚
func (o *Orchestrator) SubmitValidation(ctx context.Context, actor string, drrID uint, notes string) (*domain.Validation, error) {
	o.warnActor("submit_validation", actor)

	var v *domain.Validation
	err := o.locked(ctx, drrLockKey(drrID), func() error {
		return o.inTx(ctx, func(tx *gorm.DB) error {
			rec, err := o.repos.DRRs.FindByID(ctx, tx, drrID, true)
			if err != nil {
				return err
			}

			// 1. 重复结算检查 (唯一索引兜底)
			existing, err := o.repos.Validations.FindByDRR(ctx, tx, drrID)
			switch {
			case err == nil:
				return domain.Duplicate("validation %d already exists for drr %d", existing.ID, drrID)
			case !isNotFound(err):
				return err
			}

			// 2. 状态机校验 + 内存中应用事件
			v = domain.NewValidation(rec, notes)
			s := domain.Settlement{DRR: rec, Validation: v}
			ev := o.event(domain.EventValidated, actor)
			if err := s.Apply(ev, o.calc); err != nil {
				return err
			}

			// 3. 持久化
			if err := o.repos.Validations.Create(ctx, tx, v); err != nil {
				return err
			}
			if err := o.repos.DRRs.Save(ctx, tx, rec); err != nil {
				return err
			}
			return o.record(ctx, tx, s, ev)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("submit validation for drr %d: %w", drrID, err)
	}
	return v, nil
}

// AdjustValidationPayout 审核人在 Pending 阶段调整 approve_payout
func (o *Orchestrator) AdjustValidationPayout(ctx context.Context, actor string, id uint, amount decimal.Decimal, notes *string) (*domain.Validation, error) {
	o.warnActor("adjust_validation", actor)
	if amount.IsNegative() {
		return nil, domain.InvalidInput("approve payout must not be negative")
	}

	var v *domain.Validation
	err := o.withValidation(ctx, id, func(tx *gorm.DB, s *domain.Settlement) error {
		v = s.Validation
		if v.Status != domain.ValidationPending {
			return fmt.Errorf("validation %d is %s, payout can only be adjusted while Pending: %w", id, v.Status, domain.ErrInvalidTransition)
		}
		v.ApprovePayout = domain.RoundMoney(amount)
		if notes != nil {
			v.Notes = *notes
		}
		return o.repos.Validations.Save(ctx, tx, v)
	})
	if err != nil {
		return nil, fmt.Errorf("adjust validation %d: %w", id, err)
	}
	o.logger.Info("validation payout adjusted",
		zap.Uint("validation_id", id),
		zap.String("approve_payout", v.ApprovePayout.StringFixed(2)),
		zap.String("actor", actor),
	)
	return v, nil
}

// ApproveValidation Pending -> Approved (DRR 保持 validated，开票后才推进)
func (o *Orchestrator) ApproveValidation(ctx context.Context, actor string, id uint) (*domain.Validation, error) {
	o.warnActor("approve_validation", actor)
	return o.transitionValidation(ctx, id, o.event(domain.EventApproved, actor))
}

// RejectValidation Pending -> Rejected (终态)，DRR 回到原状态并标记 needs_attention
func (o *Orchestrator) RejectValidation(ctx context.Context, actor string, id uint, reason string) (*domain.Validation, error) {
	o.warnActor("reject_validation", actor)
	ev := o.event(domain.EventRejected, actor)
	ev.Reason = reason
	return o.transitionValidation(ctx, id, ev)
}

func (o *Orchestrator) transitionValidation(ctx context.Context, id uint, ev domain.SettlementEvent) (*domain.Validation, error) {
	var v *domain.Validation
	err := o.withValidation(ctx, id, func(tx *gorm.DB, s *domain.Settlement) error {
		v = s.Validation
		if err := s.Apply(ev, o.calc); err != nil {
			return err
		}
		if err := o.saveSettlement(ctx, tx, *s); err != nil {
			return err
		}
		return o.record(ctx, tx, *s, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("%s validation %d: %w", ev.Kind, id, err)
	}
	return v, nil
}

// withValidation 锁住对账单所属 DRR，事务内重新加载 Validation + DRR
func (o *Orchestrator) withValidation(ctx context.Context, id uint, fn func(tx *gorm.DB, s *domain.Settlement) error) error {
	head, err := o.repos.Validations.FindByID(ctx, o.db, id, false)
	if err != nil {
		return err
	}
	return o.locked(ctx, drrLockKey(head.DRRID), func() error {
		return o.inTx(ctx, func(tx *gorm.DB) error {
			rec, err := o.repos.DRRs.FindByID(ctx, tx, head.DRRID, true)
			if err != nil {
				return err
			}
			v, err := o.repos.Validations.FindByID(ctx, tx, id, true)
			if err != nil {
				return err
			}
			return fn(tx, &domain.Settlement{DRR: rec, Validation: v})
		})
	})
}

// GetValidation 按 ID 读取
func (o *Orchestrator) GetValidation(ctx context.Context, id uint) (*domain.Validation, error) {
	return o.repos.Validations.FindByID(ctx, o.db, id, false)
}
