package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// OutboxEvent 结算事件发件箱，与业务记录同一事务写入
// 对应数据库表: settlement_outbox
// Seq 由数据库递增分配，是同一分区键内的发布顺序
type OutboxEvent struct {
	Seq          uint64         `gorm:"primaryKey;autoIncrement"`
	ID           string         `gorm:"type:varchar(36);not null;uniqueIndex"`
	Kind         EventKind      `gorm:"type:varchar(32);not null;index"`
	PartitionKey string         `gorm:"type:varchar(64);not null"`
	DRRID        *uint          `gorm:"column:drr_id;index"`
	ValidationID *uint          `gorm:"index"`
	InvoiceID    *uint          `gorm:"index"`
	Actor        string         `gorm:"type:varchar(64)"`
	Payload      datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null;index"`
	PublishedAt  *time.Time     `gorm:"index"`
	Attempts     int            `gorm:"not null;default:0"`
	LastError    string         `gorm:"type:text"`
	LastErrorAt  *time.Time
}

func (OutboxEvent) TableName() string {
	return "settlement_outbox"
}

// settlementSnapshot 下游 (报表 / 票据渲染) 消费的事件载荷
type settlementSnapshot struct {
	EventID          string           `json:"event_id"`
	Event            EventKind        `json:"event"`
	Actor            string           `json:"actor,omitempty"`
	OccurredAt       time.Time        `json:"occurred_at"`
	DRRID            *uint            `json:"drr_id,omitempty"`
	DRRStatus        DRRStatus        `json:"drr_status,omitempty"`
	Revenue          *decimal.Decimal `json:"revenue,omitempty"`
	Payout           *decimal.Decimal `json:"payout,omitempty"`
	Profit           *decimal.Decimal `json:"profit,omitempty"`
	ValidationID     *uint            `json:"validation_id,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status,omitempty"`
	ApprovePayout    *decimal.Decimal `json:"approve_payout,omitempty"`
	InvoiceID        *uint            `json:"invoice_id,omitempty"`
	InvoiceNumber    string           `json:"invoice_number,omitempty"`
	InvoiceStatus    InvoiceStatus    `json:"invoice_status,omitempty"`
	Currency         string           `json:"currency,omitempty"`
	Total            *decimal.Decimal `json:"total,omitempty"`
	Reason           string           `json:"reason,omitempty"`
}

// NewOutboxEvent 为已应用的事件生成发件箱记录 (记录 ID 必须已分配)
func NewOutboxEvent(ev SettlementEvent, s Settlement) (*OutboxEvent, error) {
	out := &OutboxEvent{
		ID:        uuid.NewString(),
		Kind:      ev.Kind,
		Actor:     ev.Actor,
		CreatedAt: ev.At,
	}
	snap := settlementSnapshot{
		EventID:    out.ID,
		Event:      ev.Kind,
		Actor:      ev.Actor,
		OccurredAt: ev.At,
		Reason:     ev.Reason,
	}

	if s.DRR != nil {
		id := s.DRR.ID
		out.DRRID = &id
		snap.DRRID = &id
		snap.DRRStatus = s.DRR.Status
		snap.Revenue, snap.Payout, snap.Profit = &s.DRR.Revenue, &s.DRR.Payout, &s.DRR.Profit
	}
	if s.Validation != nil {
		id := s.Validation.ID
		out.ValidationID = &id
		snap.ValidationID = &id
		snap.ValidationStatus = s.Validation.Status
		snap.ApprovePayout = &s.Validation.ApprovePayout
	}
	if s.Invoice != nil {
		id := s.Invoice.ID
		out.InvoiceID = &id
		snap.InvoiceID = &id
		snap.InvoiceNumber = s.Invoice.Number
		snap.InvoiceStatus = s.Invoice.Status
		snap.Currency = s.Invoice.Currency
		snap.Total = &s.Invoice.Total
	}
	out.PartitionKey = partitionKey(s)

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	out.Payload = datatypes.JSON(payload)
	return out, nil
}

// partitionKey 同一 DRR 的事件落在同一分区，保证顺序
func partitionKey(s Settlement) string {
	switch {
	case s.DRR != nil:
		return "drr-" + uintString(s.DRR.ID)
	case s.Invoice != nil:
		return "invoice-" + uintString(s.Invoice.ID)
	case s.Validation != nil:
		return "validation-" + uintString(s.Validation.ID)
	}
	return "settlement"
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
