package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
	"github.com/xxz807/finscale/settlement/internal/settlement/service"
)

const dateLayout = "2006-01-02"

// DRRReq 对应前端 / 导入方发来的 JSON
// 金额字段接受字符串或数字 (decimal 负责解析)
type DRRReq struct {
	AdvertiserID   uint   `json:"advertiser_id" binding:"required"`
	PublisherID    uint   `json:"publisher_id" binding:"required"`
	CampaignName   string `json:"campaign_name" binding:"required"`
	Geo            string `json:"geo" binding:"required"`
	MMP            string `json:"mmp"`
	AccountManager string `json:"account_manager"`
	StartDate      string `json:"start_date" binding:"required"` // YYYY-MM-DD
	EndDate        string `json:"end_date"`

	AdvertiserConversions int64           `json:"advertiser_conversions"`
	CampaignRevenueRate   decimal.Decimal `json:"campaign_revenue"`
	AdvertiserRevenue     decimal.Decimal `json:"advertiser_revenue"`
	PublisherConversions  int64           `json:"publisher_conversions"`
	PublisherPayoutRate   decimal.Decimal `json:"publisher_payout"`
	PublisherRevenue      decimal.Decimal `json:"publisher_revenue"`
	ConversionsPostbacks  int64           `json:"conversions_postbacks"`

	PID              string `json:"pid"`
	AFPRT            string `json:"af_prt"`
	PayableEventName string `json:"payable_event_name"`
}

func (r DRRReq) toInput() (service.DRRInput, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return service.DRRInput{}, err
	}
	in := service.DRRInput{
		AdvertiserID:          r.AdvertiserID,
		PublisherID:           r.PublisherID,
		CampaignName:          r.CampaignName,
		Geo:                   r.Geo,
		MMP:                   r.MMP,
		AccountManager:        r.AccountManager,
		StartDate:             start,
		AdvertiserConversions: r.AdvertiserConversions,
		CampaignRevenueRate:   r.CampaignRevenueRate,
		AdvertiserRevenue:     r.AdvertiserRevenue,
		PublisherConversions:  r.PublisherConversions,
		PublisherPayoutRate:   r.PublisherPayoutRate,
		PublisherRevenue:      r.PublisherRevenue,
		ConversionsPostbacks:  r.ConversionsPostbacks,
		PID:                   r.PID,
		AFPRT:                 r.AFPRT,
		PayableEventName:      r.PayableEventName,
	}
	if r.EndDate != "" {
		end, err := parseDate("end_date", r.EndDate)
		if err != nil {
			return service.DRRInput{}, err
		}
		in.EndDate = &end
	}
	return in, nil
}

// ImportReq 批量导入 (行已由上游解析为 JSON)
// id 非零表示更新已有记录
type ImportReq struct {
	Rows []ImportRowReq `json:"rows" binding:"required,min=1"`
}

type ImportRowReq struct {
	ID uint `json:"id"`
	DRRReq
}

type SubmitValidationReq struct {
	DRRID uint   `json:"drr_id" binding:"required"`
	Notes string `json:"notes"`
}

type AdjustValidationReq struct {
	ApprovePayout decimal.Decimal `json:"approve_payout"`
	Notes         *string         `json:"notes"`
}

type RejectValidationReq struct {
	Reason string `json:"reason" binding:"required"`
}

type LineReq struct {
	Description string          `json:"description" binding:"required"`
	HSNSAC      string          `json:"hsn_sac"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	SortOrder   int             `json:"sort_order"`
}

func (r LineReq) toInput() service.LineInput {
	return service.LineInput{
		Description: r.Description,
		HSNSAC:      r.HSNSAC,
		Quantity:    r.Quantity,
		UnitRate:    r.Rate,
		SortOrder:   r.SortOrder,
	}
}

func toLineInputs(in []LineReq) []service.LineInput {
	out := make([]service.LineInput, 0, len(in))
	for _, l := range in {
		out = append(out, l.toInput())
	}
	return out
}

// DetailsReq 票面信息
type DetailsReq struct {
	IssueDate       string `json:"issue_date"`
	BillFromDetails string `json:"bill_from_details"`
	BillToDetails   string `json:"bill_to_details"`
	BankDetails     string `json:"bank_details"`
	Terms           string `json:"terms"`
}

func (r DetailsReq) toDetails() (service.InvoiceDetails, error) {
	d := service.InvoiceDetails{
		BillFromDetails: r.BillFromDetails,
		BillToDetails:   r.BillToDetails,
		BankDetails:     r.BankDetails,
		Terms:           r.Terms,
	}
	if r.IssueDate != "" {
		issue, err := parseDate("issue_date", r.IssueDate)
		if err != nil {
			return d, err
		}
		d.IssueDate = &issue
	}
	return d, nil
}

// GenerateInvoiceReq validation_id 与 drr_id 二选一
type GenerateInvoiceReq struct {
	ValidationID uint      `json:"validation_id"`
	DRRID        uint      `json:"drr_id"`
	PartyType    string    `json:"party_type" binding:"omitempty,oneof=publisher advertiser"`
	Currency     string    `json:"currency"`
	TaxExempt    bool      `json:"tax_exempt"`
	Lines        []LineReq `json:"lines" binding:"dive"`
	DetailsReq
}

type ManualInvoiceReq struct {
	PartyType    string          `json:"party_type" binding:"required,oneof=publisher advertiser"`
	AdvertiserID *uint           `json:"advertiser_id"`
	PublisherID  *uint           `json:"publisher_id"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"` // 本位币金额
	TaxExempt    bool            `json:"tax_exempt"`
	Lines        []LineReq       `json:"lines" binding:"dive"`
	DetailsReq
}

type RateReq struct {
	Currency string          `json:"currency" binding:"required"`
	Rate     decimal.Decimal `json:"rate"`
}

type UpsertRatesReq struct {
	Rates []RateReq `json:"rates" binding:"required,min=1,dive"`
}

// InvoiceResp 发票 + 派生展示状态 (Overdue)
type InvoiceResp struct {
	*domain.Invoice
	EffectiveStatus domain.InvoiceStatus `json:"effective_status"`
}

func newInvoiceResp(inv *domain.Invoice, now time.Time) InvoiceResp {
	return InvoiceResp{Invoice: inv, EffectiveStatus: inv.EffectiveStatus(now)}
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, domain.InvalidInput("%s must be YYYY-MM-DD, got %q", field, value)
	}
	return t, nil
}

func parseMonth(value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse("2006-01", value); err != nil {
		return domain.InvalidInput("month must be YYYY-MM, got %q", value)
	}
	return nil
}
