package domain

import "strings"

// DRRStatus 日收入记录生命周期状态
type DRRStatus string

const (
	DRRActive    DRRStatus = "active"
	DRRPaused    DRRStatus = "paused"
	DRRCompleted DRRStatus = "completed"
	DRRValidated DRRStatus = "validated"
	DRRInvoiced  DRRStatus = "invoiced"
	DRRApproved  DRRStatus = "approved"
	DRRPaid      DRRStatus = "paid"
)

// drrTransitions 允许的前向迁移
// 唯一的回退 (Validation 被驳回) 在 Settlement.Apply 中单独处理
var drrTransitions = map[DRRStatus][]DRRStatus{
	DRRActive:    {DRRPaused, DRRCompleted},
	DRRPaused:    {DRRActive, DRRCompleted, DRRValidated},
	DRRCompleted: {DRRValidated},
	DRRValidated: {DRRInvoiced},
	DRRInvoiced:  {DRRApproved},
	DRRApproved:  {DRRPaid},
}

// IsValid 校验状态合法性
func (s DRRStatus) IsValid() bool {
	switch s {
	case DRRActive, DRRPaused, DRRCompleted, DRRValidated, DRRInvoiced, DRRApproved, DRRPaid:
		return true
	}
	return false
}

// RequiresValidation 是否等待 Validation (paused / completed)
func (s DRRStatus) RequiresValidation() bool {
	return s == DRRPaused || s == DRRCompleted
}

// Editable 投放数据是否仍可修改
func (s DRRStatus) Editable() bool {
	return s == DRRActive || s == DRRPaused || s == DRRCompleted
}

// CanMoveTo 是否允许迁移到 target
func (s DRRStatus) CanMoveTo(target DRRStatus) bool {
	for _, next := range drrTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ValidationStatus 发布商对账审批状态
type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "Pending"
	ValidationApproved ValidationStatus = "Approved"
	ValidationRejected ValidationStatus = "Rejected"
	ValidationInvoiced ValidationStatus = "Invoiced"
	ValidationPaid     ValidationStatus = "Paid"
)

var validationTransitions = map[ValidationStatus][]ValidationStatus{
	ValidationPending:  {ValidationApproved, ValidationRejected},
	ValidationApproved: {ValidationInvoiced},
	ValidationInvoiced: {ValidationPaid},
}

// CanMoveTo 是否允许迁移到 target
func (s ValidationStatus) CanMoveTo(target ValidationStatus) bool {
	for _, next := range validationTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// InvoiceStatus 发票状态 (Overdue 为派生状态，见 Invoice.IsOverdue)
type InvoiceStatus string

const (
	InvoicePending  InvoiceStatus = "Pending"
	InvoiceApproved InvoiceStatus = "Approved"
	InvoicePaid     InvoiceStatus = "Paid"
	InvoiceOverdue  InvoiceStatus = "Overdue"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoicePending:  {InvoiceApproved},
	InvoiceApproved: {InvoicePaid},
}

// CanMoveTo 是否允许迁移到 target
func (s InvoiceStatus) CanMoveTo(target InvoiceStatus) bool {
	for _, next := range invoiceTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// PartyType 发票对象 (发布商 / 广告主)
type PartyType string

const (
	PartyPublisher  PartyType = "publisher"
	PartyAdvertiser PartyType = "advertiser"
)

// IsValid 校验参与方合法性
func (p PartyType) IsValid() bool {
	return p == PartyPublisher || p == PartyAdvertiser
}

// NumberPrefix 发票号前缀
func (p PartyType) NumberPrefix() string {
	if p == PartyPublisher {
		return "PUB"
	}
	return "INV"
}

// NormalizeCurrency 规范化币种代码
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
