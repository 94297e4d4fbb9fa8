package domain

import (
	"errors"
	"testing"
	"time"
)

func completedDRR() *DailyRevenueRecord {
	r := &DailyRevenueRecord{
		ID:                    7,
		PublisherID:           3,
		AdvertiserID:          4,
		Status:                DRRCompleted,
		StartDate:             time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		AdvertiserConversions: 100,
		CampaignRevenueRate:   dec("8"),
		PublisherConversions:  100,
		PublisherPayoutRate:   dec("5"),
	}
	RevenueCalculator{}.Apply(r)
	return r
}

func TestSettlementFullJourney(t *testing.T) {
	t.Parallel()
	calc := RevenueCalculator{}
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	drr := completedDRR()
	v := NewValidation(drr, "")
	s := &Settlement{DRR: drr, Validation: v}

	if v.Month != "2024-05" || !v.ApprovePayout.Equal(dec("500")) || v.Status != ValidationPending {
		t.Fatalf("unexpected new validation %+v", v)
	}

	steps := []struct {
		ev       SettlementEvent
		drr      DRRStatus
		validate ValidationStatus
	}{
		{SettlementEvent{Kind: EventValidated, Actor: "ops", At: now}, DRRValidated, ValidationPending},
		{SettlementEvent{Kind: EventApproved, Actor: "lead", At: now}, DRRValidated, ValidationApproved},
		{SettlementEvent{Kind: EventInvoiced, Actor: "lead", At: now}, DRRInvoiced, ValidationInvoiced},
		{SettlementEvent{Kind: EventInvoiceApproved, Actor: "fin", At: now}, DRRApproved, ValidationInvoiced},
		{SettlementEvent{Kind: EventPaid, Actor: "fin", At: now}, DRRPaid, ValidationPaid},
	}
	for _, step := range steps {
		if step.ev.Kind == EventInvoiced {
			s.Invoice = &Invoice{ID: 1, Status: InvoicePending, PartyType: PartyPublisher}
		}
		if err := s.Apply(step.ev, calc); err != nil {
			t.Fatalf("%s: %v", step.ev.Kind, err)
		}
		if drr.Status != step.drr || v.Status != step.validate {
			t.Fatalf("after %s: drr=%s validation=%s", step.ev.Kind, drr.Status, v.Status)
		}
	}

	if drr.PaidBy != "fin" || drr.PaidAt == nil || drr.ValidatedBy != "ops" {
		t.Fatalf("audit fields not recorded: %+v", drr)
	}
	if s.Invoice.Status != InvoicePaid {
		t.Fatalf("invoice status = %s", s.Invoice.Status)
	}
}

func TestSettlementRejectsOutOfOrderEvents(t *testing.T) {
	t.Parallel()
	calc := RevenueCalculator{}
	now := time.Now()

	active := completedDRR()
	active.Status = DRRActive
	s := &Settlement{DRR: active, Invoice: &Invoice{Status: InvoicePending}}
	err := s.Apply(SettlementEvent{Kind: EventInvoiced, At: now}, calc)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("invoicing active drr: got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.Entity != "drr" || te.From != "active" || te.To != "invoiced" {
		t.Fatalf("unexpected transition error %#v", err)
	}
	if active.Status != DRRActive {
		t.Fatalf("state mutated on rejection: %s", active.Status)
	}

	validated := completedDRR()
	validated.Status = DRRValidated
	v := &Validation{DRRID: validated.ID, PublisherID: validated.PublisherID, Status: ValidationPending}
	s = &Settlement{DRR: validated, Validation: v}
	if err := s.Apply(SettlementEvent{Kind: EventValidated, At: now}, calc); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("validating validated drr: got %v", err)
	}

	inv := &Invoice{Status: InvoicePending}
	s = &Settlement{DRR: validated, Invoice: inv}
	if err := s.Apply(SettlementEvent{Kind: EventPaid, At: now}, calc); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("paying pending invoice: got %v", err)
	}
}

func TestSettlementRejection(t *testing.T) {
	t.Parallel()
	drr := completedDRR()
	drr.Status = DRRPaused
	v := NewValidation(drr, "please check")
	s := &Settlement{DRR: drr, Validation: v}
	calc := RevenueCalculator{}

	if err := s.Apply(SettlementEvent{Kind: EventValidated, Actor: "ops", At: time.Now()}, calc); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(SettlementEvent{Kind: EventRejected, Actor: "lead", At: time.Now(), Reason: "numbers off"}, calc); err != nil {
		t.Fatal(err)
	}
	if v.Status != ValidationRejected || v.RejectionReason != "numbers off" {
		t.Fatalf("validation = %+v", v)
	}
	if drr.Status != DRRPaused || !drr.NeedsAttention || drr.ValidatedAt != nil {
		t.Fatalf("drr not returned for attention: %+v", drr)
	}
	if !drr.ValidationRequired {
		t.Fatalf("paused drr must require validation")
	}
	if err := s.Apply(SettlementEvent{Kind: EventApproved, At: time.Now()}, calc); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rejected validation must be terminal, got %v", err)
	}
}

func TestSettlementPublisherMismatch(t *testing.T) {
	t.Parallel()
	drr := completedDRR()
	v := NewValidation(drr, "")
	v.PublisherID = 99
	s := &Settlement{DRR: drr, Validation: v}
	err := s.Apply(SettlementEvent{Kind: EventValidated, At: time.Now()}, RevenueCalculator{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if drr.Status != DRRCompleted {
		t.Fatalf("drr mutated: %s", drr.Status)
	}
}

func TestNewOutboxEvent(t *testing.T) {
	t.Parallel()
	drr := completedDRR()
	inv := &Invoice{ID: 11, Number: "PUB-000001", Status: InvoicePaid, Currency: "INR", Total: dec("590")}
	out, err := NewOutboxEvent(SettlementEvent{Kind: EventPaid, Actor: "fin", At: time.Now()}, Settlement{DRR: drr, Invoice: inv})
	if err != nil {
		t.Fatal(err)
	}
	if out.ID == "" || out.PartitionKey != "drr-7" || out.DRRID == nil || *out.DRRID != 7 || out.InvoiceID == nil {
		t.Fatalf("unexpected outbox event %+v", out)
	}
	if len(out.Payload) == 0 {
		t.Fatal("empty payload")
	}
}
