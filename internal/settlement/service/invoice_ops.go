package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

// GenerateInvoice 从已审批对账单或已 validated 的 DRR 生成发票
// 同一事务内: 预留发票号 -> 计税 -> DRR -> invoiced, Validation -> Invoiced
func (o *Orchestrator) GenerateInvoice(ctx context.Context, actor string, req GenerateInvoiceRequest) (*domain.Invoice, error) {
	o.warnActor("generate_invoice", actor)
	if (req.ValidationID == 0) == (req.DRRID == 0) {
		return nil, domain.InvalidInput("exactly one of validation_id or drr_id is required")
	}
	if req.PartyType == "" {
		req.PartyType = domain.PartyPublisher
	}
	if !req.PartyType.IsValid() {
		return nil, domain.InvalidInput("unknown party type %q", req.PartyType)
	}
	if err := o.checkLines(req.Lines); err != nil {
		return nil, err
	}

	drrID := req.DRRID
	if req.ValidationID != 0 {
		head, err := o.repos.Validations.FindByID(ctx, o.db, req.ValidationID, false)
		if err != nil {
			return nil, fmt.Errorf("generate invoice: %w", err)
		}
		drrID = head.DRRID
	}

	// 汇率在事务外读取 (只读、允许陈旧)
	conv := o.converter(ctx)

	var inv *domain.Invoice
	err := o.locked(ctx, drrLockKey(drrID), func() error {
		return o.inTx(ctx, func(tx *gorm.DB) error {
			rec, err := o.repos.DRRs.FindByID(ctx, tx, drrID, true)
			if err != nil {
				return err
			}

			var v *domain.Validation
			if req.ValidationID != 0 {
				if v, err = o.repos.Validations.FindByID(ctx, tx, req.ValidationID, true); err != nil {
					return err
				}
			} else if v, err = o.repos.Validations.FindByDRR(ctx, tx, drrID); err != nil {
				if !isNotFound(err) {
					return err
				}
				v = nil
			}

			// 1. 重复开票检查
			if exists, err := o.repos.Invoices.ExistsForDRR(ctx, tx, drrID); err != nil {
				return err
			} else if exists {
				return domain.Duplicate("drr %d already has an invoice", drrID)
			}
			if v != nil {
				exists, err := o.repos.Invoices.ExistsForValidation(ctx, tx, v.ID)
				if err != nil {
					return err
				}
				if exists {
					return domain.Duplicate("validation %d already has an invoice", v.ID)
				}
			}

			// 2. 状态前置条件
			s := &domain.Settlement{DRR: rec, Validation: v}
			var events []domain.SettlementEvent
			if req.ValidationID != 0 {
				if !v.CanBeInvoiced(false) {
					return &domain.TransitionError{Entity: "validation", ID: v.ID, From: string(v.Status), To: string(domain.ValidationInvoiced)}
				}
			} else {
				if rec.Status != domain.DRRValidated {
					return &domain.TransitionError{Entity: "drr", ID: rec.ID, From: string(rec.Status), To: string(domain.DRRInvoiced)}
				}
				if v != nil && v.Status == domain.ValidationPending {
					// 直接从 DRR 开票视为同一操作人审批通过
					ev := o.event(domain.EventApproved, actor)
					if err := s.Apply(ev, o.calc); err != nil {
						return err
					}
					events = append(events, ev)
				}
			}

			// 3. 组装发票
			inv = &domain.Invoice{
				Status:    domain.InvoicePending,
				PartyType: req.PartyType,
				DRRID:     &rec.ID,
				Currency:  req.Currency,
				TaxExempt: req.TaxExempt,
				CreatedBy: actor,
				Lines:     toLines(req.Lines),
			}
			if v != nil {
				inv.ValidationID = &v.ID
			}
			switch req.PartyType {
			case domain.PartyPublisher:
				pid := rec.PublisherID
				inv.PublisherID = &pid
				inv.HomeAmount = rec.Payout
				if v != nil {
					inv.HomeAmount = v.ApprovePayout
				}
			case domain.PartyAdvertiser:
				aid := rec.AdvertiserID
				inv.AdvertiserID = &aid
				inv.HomeAmount = rec.Revenue
			}
			o.applyDetails(inv, req.InvoiceDetails)
			o.price(inv, conv)

			s.Invoice = inv
			ev := o.event(domain.EventInvoiced, actor)
			if err := s.Apply(ev, o.calc); err != nil {
				return err
			}
			events = append(events, ev)

			// 4. 发票号预留 + 持久化
			if err := o.assignNumber(ctx, tx, inv); err != nil {
				return err
			}
			if err := o.repos.Invoices.Create(ctx, tx, inv); err != nil {
				return err
			}
			if err := o.saveSettlement(ctx, tx, *s); err != nil {
				return err
			}
			return o.record(ctx, tx, *s, events...)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("generate invoice for drr %d: %w", drrID, err)
	}
	return inv, nil
}

// CreateManualInvoice 不关联 DRR 的手工发票
func (o *Orchestrator) CreateManualInvoice(ctx context.Context, actor string, req ManualInvoiceRequest) (*domain.Invoice, error) {
	o.warnActor("create_manual_invoice", actor)
	if err := o.check(req); err != nil {
		return nil, err
	}
	if err := o.checkLines(req.Lines); err != nil {
		return nil, err
	}

	inv := &domain.Invoice{
		Status:       domain.InvoicePending,
		PartyType:    req.PartyType,
		AdvertiserID: req.AdvertiserID,
		PublisherID:  req.PublisherID,
		Currency:     req.Currency,
		HomeAmount:   domain.RoundMoney(req.HomeAmount),
		TaxExempt:    req.TaxExempt,
		CreatedBy:    actor,
		Lines:        toLines(req.Lines),
	}
	if inv.NormalizeParty() {
		o.logger.Warn("invoice party reference corrected",
			zap.String("party_type", string(inv.PartyType)),
			zap.Error(domain.ErrInconsistentPartyReference),
		)
	}
	// 纠正后仍没有对应参与方则无法开票
	if (inv.PartyType == domain.PartyPublisher && inv.PublisherID == nil) ||
		(inv.PartyType == domain.PartyAdvertiser && inv.AdvertiserID == nil) {
		return nil, domain.InvalidInput("%s invoice requires %s_id", inv.PartyType, inv.PartyType)
	}
	o.applyDetails(inv, req.InvoiceDetails)
	o.price(inv, o.converter(ctx))

	err := o.inTx(ctx, func(tx *gorm.DB) error {
		if err := o.assignNumber(ctx, tx, inv); err != nil {
			return err
		}
		return o.repos.Invoices.Create(ctx, tx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("create manual invoice: %w", err)
	}
	o.logger.Info("manual invoice created",
		zap.Uint("invoice_id", inv.ID),
		zap.String("invoice_number", inv.Number),
		zap.String("total", inv.Total.StringFixed(2)),
		zap.String("actor", actor),
	)
	return inv, nil
}

// ApproveInvoice Pending -> Approved，DRR invoiced -> approved
func (o *Orchestrator) ApproveInvoice(ctx context.Context, actor string, id uint) (*domain.Invoice, error) {
	o.warnActor("approve_invoice", actor)
	return o.transitionInvoice(ctx, id, o.event(domain.EventInvoiceApproved, actor))
}

// MarkInvoicePaid -> Paid，DRR -> paid，Validation -> Paid
// Pending 发票先走审批再付款，不跳过任何状态
func (o *Orchestrator) MarkInvoicePaid(ctx context.Context, actor string, id uint) (*domain.Invoice, error) {
	o.warnActor("mark_invoice_paid", actor)
	return o.transitionInvoice(ctx, id, o.event(domain.EventPaid, actor))
}

func (o *Orchestrator) transitionInvoice(ctx context.Context, id uint, ev domain.SettlementEvent) (*domain.Invoice, error) {
	var inv *domain.Invoice
	err := o.withInvoice(ctx, id, func(tx *gorm.DB, s *domain.Settlement) error {
		inv = s.Invoice
		events := []domain.SettlementEvent{}
		if ev.Kind == domain.EventPaid && inv.Status == domain.InvoicePending {
			approve := ev
			approve.Kind = domain.EventInvoiceApproved
			if err := s.Apply(approve, o.calc); err != nil {
				return err
			}
			events = append(events, approve)
		}
		if err := s.Apply(ev, o.calc); err != nil {
			return err
		}
		events = append(events, ev)

		if err := o.saveSettlement(ctx, tx, *s); err != nil {
			return err
		}
		return o.record(ctx, tx, *s, events...)
	})
	if err != nil {
		return nil, fmt.Errorf("%s invoice %d: %w", ev.Kind, id, err)
	}
	return inv, nil
}

// AddInvoiceLine 新增明细并重算小计 / 税额 / 总额
func (o *Orchestrator) AddInvoiceLine(ctx context.Context, actor string, invoiceID uint, in LineInput) (*domain.Invoice, error) {
	o.warnActor("add_invoice_line", actor)
	if err := o.checkLines([]LineInput{in}); err != nil {
		return nil, err
	}
	return o.mutateLines(ctx, invoiceID, func(tx *gorm.DB, inv *domain.Invoice) error {
		line := toLines([]LineInput{in})[0]
		line.InvoiceID = inv.ID
		line.Recompute(o.tax, inv.Currency, inv.PartyType, inv.TaxExempt)
		if err := o.repos.Invoices.CreateLine(ctx, tx, &line); err != nil {
			return err
		}
		inv.Lines = append(inv.Lines, line)
		return nil
	})
}

// UpdateInvoiceLine 修改明细并重算
func (o *Orchestrator) UpdateInvoiceLine(ctx context.Context, actor string, invoiceID, lineID uint, in LineInput) (*domain.Invoice, error) {
	o.warnActor("update_invoice_line", actor)
	if err := o.checkLines([]LineInput{in}); err != nil {
		return nil, err
	}
	return o.mutateLines(ctx, invoiceID, func(tx *gorm.DB, inv *domain.Invoice) error {
		for i := range inv.Lines {
			if inv.Lines[i].ID == lineID {
				next := toLines([]LineInput{in})[0]
				next.ID = lineID
				next.InvoiceID = invoiceID
				next.CreatedAt = inv.Lines[i].CreatedAt
				inv.Lines[i] = next
				return nil
			}
		}
		return fmt.Errorf("invoice %d line %d: %w", invoiceID, lineID, domain.ErrNotFound)
	})
}

// RemoveInvoiceLine 删除明细并重算 (删光后小计回到基础金额)
func (o *Orchestrator) RemoveInvoiceLine(ctx context.Context, actor string, invoiceID, lineID uint) (*domain.Invoice, error) {
	o.warnActor("remove_invoice_line", actor)
	return o.mutateLines(ctx, invoiceID, func(tx *gorm.DB, inv *domain.Invoice) error {
		if err := o.repos.Invoices.DeleteLine(ctx, tx, invoiceID, lineID); err != nil {
			return err
		}
		kept := inv.Lines[:0]
		for _, l := range inv.Lines {
			if l.ID != lineID {
				kept = append(kept, l)
			}
		}
		inv.Lines = kept
		return nil
	})
}

// mutateLines 明细变更必须同一事务内重算并保存发票
func (o *Orchestrator) mutateLines(ctx context.Context, invoiceID uint, fn func(tx *gorm.DB, inv *domain.Invoice) error) (*domain.Invoice, error) {
	var inv *domain.Invoice
	err := o.withInvoice(ctx, invoiceID, func(tx *gorm.DB, s *domain.Settlement) error {
		inv = s.Invoice
		if inv.Status != domain.InvoicePending {
			return fmt.Errorf("invoice %d is %s, lines can only change while Pending: %w", inv.ID, inv.Status, domain.ErrInvalidTransition)
		}
		if err := fn(tx, inv); err != nil {
			return err
		}
		inv.Recompute(o.tax)
		for i := range inv.Lines {
			if err := o.repos.Invoices.SaveLine(ctx, tx, &inv.Lines[i]); err != nil {
				return err
			}
		}
		return o.repos.Invoices.Save(ctx, tx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("update lines of invoice %d: %w", invoiceID, err)
	}
	inv.SortLines()
	return inv, nil
}

// withInvoice 锁住发票所属 DRR (手工发票按发票加锁)，事务内重新加载三条记录
func (o *Orchestrator) withInvoice(ctx context.Context, id uint, fn func(tx *gorm.DB, s *domain.Settlement) error) error {
	head, err := o.repos.Invoices.FindByID(ctx, o.db, id, false)
	if err != nil {
		return err
	}
	return o.locked(ctx, invoiceLockKey(head), func() error {
		return o.inTx(ctx, func(tx *gorm.DB) error {
			s := &domain.Settlement{}
			if head.DRRID != nil {
				if s.DRR, err = o.repos.DRRs.FindByID(ctx, tx, *head.DRRID, true); err != nil {
					return err
				}
			}
			if s.Invoice, err = o.repos.Invoices.FindByID(ctx, tx, id, true); err != nil {
				return err
			}
			if s.Invoice.ValidationID != nil {
				if s.Validation, err = o.repos.Validations.FindByID(ctx, tx, *s.Invoice.ValidationID, true); err != nil {
					return err
				}
			}
			return fn(tx, s)
		})
	})
}

// GetInvoice 按 ID 读取 (含明细)，交给票据渲染方
func (o *Orchestrator) GetInvoice(ctx context.Context, id uint) (*domain.Invoice, error) {
	return o.repos.Invoices.FindByID(ctx, o.db, id, false)
}

// ListOverdueInvoices 已过账期未付款的发票
func (o *Orchestrator) ListOverdueInvoices(ctx context.Context, now time.Time) ([]domain.Invoice, error) {
	return o.repos.Invoices.ListOverdue(ctx, o.db, dateOnly(now))
}

// ==========================================
// helpers
// ==========================================

// price 本位币金额换算为发票币种，然后计税
func (o *Orchestrator) price(inv *domain.Invoice, conv *domain.CurrencyConverter) {
	if domain.NormalizeCurrency(inv.Currency) == "" {
		inv.Currency = o.tax.HomeCurrency()
	}
	q := conv.Quote(inv.HomeAmount, inv.Currency)
	if q.UsedFallback {
		o.logger.Warn("currency rate missing, invoicing unconverted amount",
			zap.String("currency", q.Currency),
			zap.String("home_amount", inv.HomeAmount.StringFixed(2)),
			zap.Error(domain.ErrMissingCurrencyRate),
		)
	}
	inv.Currency = q.Currency
	inv.Amount = q.Amount
	inv.ExchangeRate = q.Rate
	inv.RateFallback = q.UsedFallback
	inv.Recompute(o.tax)
}

func (o *Orchestrator) assignNumber(ctx context.Context, tx *gorm.DB, inv *domain.Invoice) error {
	seq, err := o.repos.Sequences.Next(ctx, tx, inv.PartyType)
	if err != nil {
		return fmt.Errorf("reserve invoice number: %w", err)
	}
	inv.Number = domain.FormatInvoiceNumber(inv.PartyType, seq)
	return nil
}

func (o *Orchestrator) applyDetails(inv *domain.Invoice, d InvoiceDetails) {
	issue := o.now()
	if d.IssueDate != nil {
		issue = *d.IssueDate
	}
	inv.IssueDate = dateOnly(issue)
	inv.DueDate = domain.DueDateFor(inv.IssueDate, o.dueDays)
	inv.BillFromDetails = d.BillFromDetails
	inv.BillToDetails = d.BillToDetails
	inv.BankDetails = d.BankDetails
	inv.Terms = d.Terms
	if inv.Terms == "" {
		inv.Terms = domain.DefaultInvoiceTerms
	}
}

func (o *Orchestrator) checkLines(lines []LineInput) error {
	for i := range lines {
		if err := o.check(lines[i]); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

func toLines(in []LineInput) []domain.InvoiceLine {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.InvoiceLine, 0, len(in))
	for _, l := range in {
		qty := l.Quantity
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		out = append(out, domain.InvoiceLine{
			Description: l.Description,
			HSNSAC:      l.HSNSAC,
			Quantity:    qty,
			UnitRate:    l.UnitRate,
			SortOrder:   l.SortOrder,
		})
	}
	return out
}
