package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyRevenueRecord 日收入记录 (DRR)
// 对应数据库表: daily_revenue_records
// revenue / payout / profit 为派生字段，只能由 RevenueCalculator 写入
type DailyRevenueRecord struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	AdvertiserID   uint       `gorm:"not null;index" json:"advertiser_id"`
	PublisherID    uint       `gorm:"not null;index" json:"publisher_id"`
	CampaignName   string     `gorm:"type:varchar(255);not null" json:"campaign_name"`
	Geo            string     `gorm:"type:varchar(100);not null" json:"geo"`
	MMP            string     `gorm:"column:mmp;type:varchar(100)" json:"mmp,omitempty"`
	AccountManager string     `gorm:"type:varchar(100)" json:"account_manager,omitempty"`
	StartDate      time.Time  `gorm:"type:date;not null;index" json:"start_date"`
	EndDate        *time.Time `gorm:"type:date" json:"end_date,omitempty"`

	// 广告主侧
	AdvertiserConversions int64           `gorm:"not null;default:0" json:"advertiser_conversions"`
	CampaignRevenueRate   decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"campaign_revenue"`
	AdvertiserRevenue     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"advertiser_revenue"` // 覆盖总额

	// 发布商侧
	PublisherConversions int64           `gorm:"not null;default:0" json:"publisher_conversions"`
	PublisherPayoutRate  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"publisher_payout"`
	PublisherRevenue     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"publisher_revenue"` // 覆盖总额
	ConversionsPostbacks int64           `gorm:"not null;default:0" json:"conversions_postbacks"`

	// 外部追踪标识
	PID              string `gorm:"column:pid;type:varchar(100)" json:"pid,omitempty"`
	AFPRT            string `gorm:"column:af_prt;type:varchar(100)" json:"af_prt,omitempty"`
	PayableEventName string `gorm:"type:varchar(255)" json:"payable_event_name,omitempty"`

	// 派生字段
	Revenue decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"revenue"`
	Payout  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"payout"`
	Profit  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"profit"`

	Status             DRRStatus `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	ValidationRequired bool      `gorm:"not null;default:false" json:"validation_required"`
	NeedsAttention     bool      `gorm:"not null;default:false" json:"needs_attention"`
	AttentionReason    string    `gorm:"type:text" json:"attention_reason,omitempty"`
	Version            int64     `gorm:"not null;default:1" json:"version"` // 乐观锁

	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	ValidatedBy string     `gorm:"type:varchar(64)" json:"validated_by,omitempty"`
	InvoicedAt  *time.Time `json:"invoiced_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  string     `gorm:"type:varchar(64)" json:"approved_by,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	PaidBy      string     `gorm:"type:varchar(64)" json:"paid_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (DailyRevenueRecord) TableName() string {
	return "daily_revenue_records"
}

// Month 对账月份标签 (YYYY-MM)
func (r *DailyRevenueRecord) Month() string {
	return r.StartDate.Format("2006-01")
}

// MoveTo 执行单步状态迁移，非法迁移返回 TransitionError
func (r *DailyRevenueRecord) MoveTo(target DRRStatus) error {
	if !r.Status.CanMoveTo(target) {
		return &TransitionError{Entity: "drr", ID: r.ID, From: string(r.Status), To: string(target)}
	}
	r.Status = target
	r.ValidationRequired = target.RequiresValidation()
	return nil
}

// Validation 发布商对账单 (每个 DRR 至多一条)
// 对应数据库表: validations
type Validation struct {
	ID    uint                `gorm:"primaryKey" json:"id"`
	DRRID uint                `gorm:"column:drr_id;not null;uniqueIndex" json:"drr_id"`
	DRR   *DailyRevenueRecord `gorm:"foreignKey:DRRID;constraint:OnDelete:RESTRICT" json:"-"`

	PublisherID   uint            `gorm:"not null;index" json:"publisher_id"` // 冗余自 DRR，必须一致
	Month         string          `gorm:"type:varchar(20);not null;index" json:"month"`
	Conversions   int64           `gorm:"not null;default:0" json:"conversions"`
	Payout        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"payout"`
	ApprovePayout decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"approve_payout"`
	Notes         string          `gorm:"type:text" json:"notes,omitempty"`

	Status         ValidationStatus `gorm:"type:varchar(20);not null;default:'Pending';index" json:"status"`
	DRRPriorStatus DRRStatus        `gorm:"column:drr_prior_status;type:varchar(20)" json:"-"`

	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	SubmittedBy     string     `gorm:"type:varchar(64)" json:"submitted_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovedBy      string     `gorm:"type:varchar(64)" json:"approved_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectedBy      string     `gorm:"type:varchar(64)" json:"rejected_by,omitempty"`
	RejectionReason string     `gorm:"type:text" json:"rejection_reason,omitempty"`
	InvoicedAt      *time.Time `json:"invoiced_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	PaidBy          string     `gorm:"type:varchar(64)" json:"paid_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Validation) TableName() string {
	return "validations"
}

// NewValidation 从 DRR 拷贝对账数据，approve_payout 默认等于 payout
func NewValidation(r *DailyRevenueRecord, notes string) *Validation {
	return &Validation{
		DRRID:         r.ID,
		PublisherID:   r.PublisherID,
		Month:         r.Month(),
		Conversions:   r.PublisherConversions,
		Payout:        r.Payout,
		ApprovePayout: r.Payout,
		Notes:         notes,
		Status:        ValidationPending,
	}
}

// CanBeInvoiced 已审批且尚未开票
func (v *Validation) CanBeInvoiced(hasInvoice bool) bool {
	return v.Status == ValidationApproved && !hasInvoice
}

// CurrencyRate 汇率表 (1 单位本位币 = Rate 单位 Currency)
// 由外部批处理维护，结算流程只读
type CurrencyRate struct {
	ID          uint            `gorm:"primaryKey" json:"-"`
	Currency    string          `gorm:"type:char(3);uniqueIndex;not null" json:"currency"`
	Rate        decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"rate"`
	LastUpdated time.Time       `gorm:"not null" json:"last_updated"`
}

func (CurrencyRate) TableName() string {
	return "currency_rates"
}

// InvoiceSequence 发票号序列 (每个参与方一行)
type InvoiceSequence struct {
	PartyType PartyType `gorm:"primaryKey;type:varchar(16)"`
	LastValue int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

func (InvoiceSequence) TableName() string {
	return "invoice_sequences"
}
