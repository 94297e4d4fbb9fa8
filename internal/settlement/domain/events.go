package domain

import (
	"time"
)

// EventKind 结算事件类型
type EventKind string

const (
	EventValidated       EventKind = "Validated"       // 提交对账单，DRR -> validated
	EventApproved        EventKind = "Approved"        // 对账单审批通过
	EventRejected        EventKind = "Rejected"        // 对账单驳回，DRR 回退并标记 needs_attention
	EventInvoiced        EventKind = "Invoiced"        // 生成发票，DRR -> invoiced
	EventInvoiceApproved EventKind = "InvoiceApproved" // 发票审批，DRR -> approved
	EventPaid            EventKind = "Paid"            // 发票付款，DRR -> paid
)

// SettlementEvent 跨实体状态变更的唯一入口
type SettlementEvent struct {
	Kind   EventKind
	Actor  string
	At     time.Time
	Reason string // 仅 Rejected 使用
}

// Settlement 一次结算涉及的三条记录 (Validation / Invoice 可为空)
type Settlement struct {
	DRR        *DailyRevenueRecord
	Validation *Validation
	Invoice    *Invoice
}

// Apply 校验并应用事件
// 所有前置条件先检查，任一失败则不修改任何记录
func (s *Settlement) Apply(ev SettlementEvent, calc RevenueCalculator) error {
	if err := s.check(ev); err != nil {
		return err
	}

	at := ev.At
	switch ev.Kind {
	case EventValidated:
		s.Validation.DRRPriorStatus = s.DRR.Status
		s.DRR.Status = DRRValidated
		s.DRR.ValidatedAt = &at
		s.DRR.ValidatedBy = ev.Actor
		s.DRR.NeedsAttention = false
		s.DRR.AttentionReason = ""
		s.Validation.SubmittedAt = &at
		s.Validation.SubmittedBy = ev.Actor

	case EventApproved:
		s.Validation.Status = ValidationApproved
		s.Validation.ApprovedAt = &at
		s.Validation.ApprovedBy = ev.Actor

	case EventRejected:
		s.Validation.Status = ValidationRejected
		s.Validation.RejectedAt = &at
		s.Validation.RejectedBy = ev.Actor
		s.Validation.RejectionReason = ev.Reason
		if s.DRR != nil {
			prior := s.Validation.DRRPriorStatus
			if !prior.RequiresValidation() {
				prior = DRRCompleted
			}
			s.DRR.Status = prior
			s.DRR.ValidatedAt = nil
			s.DRR.ValidatedBy = ""
			s.DRR.NeedsAttention = true
			s.DRR.AttentionReason = "validation rejected: " + ev.Reason
		}

	case EventInvoiced:
		if s.DRR != nil {
			s.DRR.Status = DRRInvoiced
			s.DRR.InvoicedAt = &at
		}
		if s.Validation != nil {
			s.Validation.Status = ValidationInvoiced
			s.Validation.InvoicedAt = &at
		}

	case EventInvoiceApproved:
		s.Invoice.Status = InvoiceApproved
		s.Invoice.ApprovedAt = &at
		s.Invoice.ApprovedBy = ev.Actor
		if s.DRR != nil {
			s.DRR.Status = DRRApproved
			s.DRR.ApprovedAt = &at
			s.DRR.ApprovedBy = ev.Actor
		}

	case EventPaid:
		s.Invoice.Status = InvoicePaid
		s.Invoice.PaidAt = &at
		s.Invoice.PaidBy = ev.Actor
		if s.DRR != nil {
			s.DRR.Status = DRRPaid
			s.DRR.PaidAt = &at
			s.DRR.PaidBy = ev.Actor
		}
		if s.Validation != nil {
			s.Validation.Status = ValidationPaid
			s.Validation.PaidAt = &at
			s.Validation.PaidBy = ev.Actor
		}
	}

	if s.DRR != nil {
		calc.Apply(s.DRR)
	}
	return nil
}

// check 事件前置条件
func (s *Settlement) check(ev SettlementEvent) error {
	switch ev.Kind {
	case EventValidated:
		if s.DRR == nil || s.Validation == nil {
			return InvalidInput("validated event needs drr and validation")
		}
		if s.Validation.Status != ValidationPending {
			return transitionErr("validation", s.Validation.ID, string(s.Validation.Status), string(ValidationPending))
		}
		if !s.DRR.Status.RequiresValidation() {
			return transitionErr("drr", s.DRR.ID, string(s.DRR.Status), string(DRRValidated))
		}
		return s.checkPublisher()

	case EventApproved, EventRejected:
		if s.Validation == nil {
			return InvalidInput("%s event needs a validation", ev.Kind)
		}
		target := ValidationApproved
		if ev.Kind == EventRejected {
			target = ValidationRejected
		}
		if !s.Validation.Status.CanMoveTo(target) {
			return transitionErr("validation", s.Validation.ID, string(s.Validation.Status), string(target))
		}
		if ev.Kind == EventRejected && s.DRR != nil && s.DRR.Status != DRRValidated {
			return transitionErr("drr", s.DRR.ID, string(s.DRR.Status), string(s.Validation.DRRPriorStatus))
		}
		return nil

	case EventInvoiced:
		if s.Invoice == nil {
			return InvalidInput("invoiced event needs an invoice")
		}
		if s.DRR == nil && s.Validation == nil {
			return InvalidInput("invoiced event needs a drr or validation")
		}
		if s.DRR != nil && !s.DRR.Status.CanMoveTo(DRRInvoiced) {
			return transitionErr("drr", s.DRR.ID, string(s.DRR.Status), string(DRRInvoiced))
		}
		if s.Validation != nil && !s.Validation.Status.CanMoveTo(ValidationInvoiced) {
			return transitionErr("validation", s.Validation.ID, string(s.Validation.Status), string(ValidationInvoiced))
		}
		return s.checkPublisher()

	case EventInvoiceApproved:
		if s.Invoice == nil {
			return InvalidInput("invoice approval needs an invoice")
		}
		if !s.Invoice.Status.CanMoveTo(InvoiceApproved) {
			return transitionErr("invoice", s.Invoice.ID, string(s.Invoice.Status), string(InvoiceApproved))
		}
		if s.DRR != nil && !s.DRR.Status.CanMoveTo(DRRApproved) {
			return transitionErr("drr", s.DRR.ID, string(s.DRR.Status), string(DRRApproved))
		}
		return nil

	case EventPaid:
		if s.Invoice == nil {
			return InvalidInput("payment needs an invoice")
		}
		if !s.Invoice.Status.CanMoveTo(InvoicePaid) {
			return transitionErr("invoice", s.Invoice.ID, string(s.Invoice.Status), string(InvoicePaid))
		}
		if s.DRR != nil && !s.DRR.Status.CanMoveTo(DRRPaid) {
			return transitionErr("drr", s.DRR.ID, string(s.DRR.Status), string(DRRPaid))
		}
		if s.Validation != nil && !s.Validation.Status.CanMoveTo(ValidationPaid) {
			return transitionErr("validation", s.Validation.ID, string(s.Validation.Status), string(ValidationPaid))
		}
		return nil
	}
	return InvalidInput("unknown settlement event %q", ev.Kind)
}

// checkPublisher Validation 的发布商必须与 DRR 一致
func (s *Settlement) checkPublisher() error {
	if s.DRR != nil && s.Validation != nil && s.Validation.PublisherID != s.DRR.PublisherID {
		return InvalidInput("validation %d publisher %d does not match drr %d publisher %d",
			s.Validation.ID, s.Validation.PublisherID, s.DRR.ID, s.DRR.PublisherID)
	}
	return nil
}

func transitionErr(entity string, id uint, from, to string) error {
	return &TransitionError{Entity: entity, ID: id, From: from, To: to}
}
