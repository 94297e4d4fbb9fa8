package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultInvoiceTerms 默认付款条款
const DefaultInvoiceTerms = "Thanks for your business."

// DefaultDueDays 默认账期 (天)
const DefaultDueDays = 30

// Invoice 发票主表
// 对应数据库表: invoices
// subtotal / tax / total 为派生字段，任何保存或明细变更都必须先 Recompute
type Invoice struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	Number    string        `gorm:"type:varchar(32);uniqueIndex;not null" json:"invoice_number"`
	Status    InvoiceStatus `gorm:"type:varchar(20);not null;default:'Pending';index" json:"status"`
	PartyType PartyType     `gorm:"type:varchar(16);not null" json:"party_type"`

	// 参与方二选一，由 PartyType 决定
	AdvertiserID *uint `gorm:"index" json:"advertiser_id"`
	PublisherID  *uint `gorm:"index" json:"publisher_id"`

	// 结算来源 (手工发票两者皆空)
	DRRID        *uint               `gorm:"column:drr_id;uniqueIndex" json:"drr_id,omitempty"`
	DRR          *DailyRevenueRecord `gorm:"foreignKey:DRRID;constraint:OnDelete:RESTRICT" json:"-"`
	ValidationID *uint               `gorm:"uniqueIndex" json:"validation_id,omitempty"`
	Validation   *Validation         `gorm:"foreignKey:ValidationID;constraint:OnDelete:RESTRICT" json:"-"`

	IssueDate time.Time `gorm:"type:date;not null" json:"issue_date"`
	DueDate   time.Time `gorm:"type:date;not null;index" json:"due_date"`

	Currency     string          `gorm:"type:char(3);not null" json:"currency"`
	HomeAmount   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"home_amount"` // 权威金额 (本位币)
	Amount       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`      // 发票币种金额
	ExchangeRate decimal.Decimal `gorm:"type:decimal(18,6);not null;default:1" json:"exchange_rate"`
	RateFallback bool            `gorm:"not null;default:false" json:"rate_fallback"`

	TaxExempt     bool            `gorm:"not null;default:false" json:"tax_exempt"`
	Subtotal      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"subtotal"`
	TaxAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tax_amount"`
	TaxComponentA decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tax_component_a"`
	TaxComponentB decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tax_component_b"`
	Total         decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total"`

	BillFromDetails string `gorm:"type:text" json:"bill_from_details,omitempty"`
	BillToDetails   string `gorm:"type:text" json:"bill_to_details,omitempty"`
	BankDetails     string `gorm:"type:text" json:"bank_details,omitempty"`
	Terms           string `gorm:"type:text" json:"terms"`

	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `gorm:"type:varchar(64)" json:"approved_by,omitempty"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	PaidBy     string     `gorm:"type:varchar(64)" json:"paid_by,omitempty"`
	CreatedBy  string     `gorm:"type:varchar(64)" json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// 关联关系 (一对多)
	Lines []InvoiceLine `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"lines"`
}

func (Invoice) TableName() string {
	return "invoices"
}

// InvoiceLine 发票明细
// 对应数据库表: invoice_lines
type InvoiceLine struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	InvoiceID     uint            `gorm:"not null;index" json:"invoice_id"`
	Description   string          `gorm:"type:varchar(255);not null" json:"description"`
	HSNSAC        string          `gorm:"column:hsn_sac;type:varchar(20)" json:"hsn_sac,omitempty"`
	Quantity      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:1" json:"quantity"`
	UnitRate      decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"rate"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	TaxComponentA decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tax_component_a"`
	TaxComponentB decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tax_component_b"`
	SortOrder     int             `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (InvoiceLine) TableName() string {
	return "invoice_lines"
}

// FormatInvoiceNumber 生成发票号 (PUB-000001 / INV-000001)
func FormatInvoiceNumber(party PartyType, seq int64) string {
	return fmt.Sprintf("%s-%06d", party.NumberPrefix(), seq)
}

// DueDateFor 开票日 + 账期，非正数账期按默认值处理
func DueDateFor(issue time.Time, days int) time.Time {
	if days <= 0 {
		days = DefaultDueDays
	}
	return issue.AddDate(0, 0, days)
}

// NormalizeParty 根据 PartyType 清空另一侧参与方
// 返回 true 表示原始引用不一致 (两侧都有或两侧都无)
func (inv *Invoice) NormalizeParty() bool {
	inconsistent := (inv.AdvertiserID == nil) == (inv.PublisherID == nil)
	switch inv.PartyType {
	case PartyPublisher:
		inv.AdvertiserID = nil
		return inconsistent || inv.PublisherID == nil
	case PartyAdvertiser:
		inv.PublisherID = nil
		return inconsistent || inv.AdvertiserID == nil
	}
	return inconsistent
}

// Recompute 重新计算明细金额、小计、税额和总额
func (inv *Invoice) Recompute(tax TaxCalculator) {
	inv.Currency = NormalizeCurrency(inv.Currency)
	inv.Amount = RoundMoney(inv.Amount)

	subtotal := inv.Amount
	if len(inv.Lines) > 0 {
		subtotal = decimal.Zero
		for i := range inv.Lines {
			l := &inv.Lines[i]
			l.Recompute(tax, inv.Currency, inv.PartyType, inv.TaxExempt)
			subtotal = subtotal.Add(l.Amount)
		}
	}

	breakdown := tax.ComputeFor(subtotal, inv.Currency, inv.PartyType, inv.TaxExempt)
	inv.Subtotal = RoundMoney(subtotal)
	inv.TaxAmount = breakdown.Total
	inv.TaxComponentA = breakdown.ComponentA
	inv.TaxComponentB = breakdown.ComponentB
	inv.Total = RoundMoney(inv.Subtotal.Add(breakdown.Total))
}

// Recompute 明细金额 = 数量 × 单价，并拆分行级税额
func (l *InvoiceLine) Recompute(tax TaxCalculator, currency string, party PartyType, exempt bool) {
	l.Amount = RoundMoney(l.Quantity.Mul(l.UnitRate))
	b := tax.ComputeFor(l.Amount, currency, party, exempt)
	l.TaxComponentA = b.ComponentA
	l.TaxComponentB = b.ComponentB
}

// IsOverdue 已过账期且未付款
func (inv *Invoice) IsOverdue(now time.Time) bool {
	if inv.Status == InvoicePaid {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	due := time.Date(inv.DueDate.Year(), inv.DueDate.Month(), inv.DueDate.Day(), 0, 0, 0, 0, now.Location())
	return due.Before(today)
}

// EffectiveStatus 对外展示状态 (派生 Overdue)
func (inv *Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if inv.IsOverdue(now) {
		return InvoiceOverdue
	}
	return inv.Status
}

// SortLines 按 sort_order, id 排序
func (inv *Invoice) SortLines() {
	sort.SliceStable(inv.Lines, func(i, j int) bool {
		a, b := inv.Lines[i], inv.Lines[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
}
