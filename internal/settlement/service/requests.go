package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

// DRRInput 录入 / 导入的投放数据 (已由导入方完成解析和类型转换)
type DRRInput struct {
	AdvertiserID   uint       `validate:"required"`
	PublisherID    uint       `validate:"required"`
	CampaignName   string     `validate:"required,max=255"`
	Geo            string     `validate:"required,max=100"`
	MMP            string     `validate:"max=100"`
	AccountManager string     `validate:"max=100"`
	StartDate      time.Time  `validate:"required"`
	EndDate        *time.Time `validate:"omitempty"`

	AdvertiserConversions int64           `validate:"gte=0"`
	CampaignRevenueRate   decimal.Decimal `validate:"gte=0"`
	AdvertiserRevenue     decimal.Decimal `validate:"gte=0"`
	PublisherConversions  int64           `validate:"gte=0"`
	PublisherPayoutRate   decimal.Decimal `validate:"gte=0"`
	PublisherRevenue      decimal.Decimal `validate:"gte=0"`
	ConversionsPostbacks  int64           `validate:"gte=0"`

	PID              string `validate:"max=100"`
	AFPRT            string `validate:"max=100"`
	PayableEventName string `validate:"max=255"`
}

// ImportRow ID 非零时更新已有记录，否则新建
type ImportRow struct {
	ID uint
	DRRInput
}

// ImportResult 逐行导入结果
type ImportResult struct {
	Row    int    `json:"row"`
	ID     uint   `json:"id,omitempty"`
	Action string `json:"action"` // created / updated / failed
	Error  string `json:"error,omitempty"`
}

// LineInput 发票明细输入
type LineInput struct {
	Description string          `validate:"required,max=255"`
	HSNSAC      string          `validate:"max=20"`
	Quantity    decimal.Decimal `validate:"gte=0"` // 0 视为 1
	UnitRate    decimal.Decimal `validate:"gte=0"`
	SortOrder   int
}

// InvoiceDetails 票面附加信息
type InvoiceDetails struct {
	IssueDate       *time.Time
	BillFromDetails string
	BillToDetails   string
	BankDetails     string
	Terms           string
}

// GenerateInvoiceRequest 从对账单或 DRR 生成发票，二者必须且只能给一个
type GenerateInvoiceRequest struct {
	ValidationID uint
	DRRID        uint
	PartyType    domain.PartyType
	Currency     string
	TaxExempt    bool
	Lines        []LineInput
	InvoiceDetails
}

// ManualInvoiceRequest 手工发票 (不关联 DRR)
type ManualInvoiceRequest struct {
	PartyType    domain.PartyType `validate:"required,oneof=publisher advertiser"`
	AdvertiserID *uint
	PublisherID  *uint
	Currency     string
	HomeAmount   decimal.Decimal `validate:"gte=0"` // 本位币金额
	TaxExempt    bool
	Lines        []LineInput
	InvoiceDetails
}
