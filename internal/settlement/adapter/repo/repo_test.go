package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/settlement/internal/platform/config"
	"github.com/xxz807/finscale/settlement/internal/platform/database"
	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedDRR(t *testing.T, db *gorm.DB, status domain.DRRStatus) *domain.DailyRevenueRecord {
	t.Helper()
	rec := &domain.DailyRevenueRecord{
		AdvertiserID:          4,
		PublisherID:           3,
		CampaignName:          "summer-cpi",
		Geo:                   "IN",
		StartDate:             time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Status:                status,
		PublisherConversions:  100,
		PublisherPayoutRate:   decimal.RequireFromString("5"),
		AdvertiserConversions: 100,
		CampaignRevenueRate:   decimal.RequireFromString("8"),
	}
	domain.RevenueCalculator{}.Apply(rec)
	if err := NewDRRRepo().Create(context.Background(), db, rec); err != nil {
		t.Fatalf("create drr: %v", err)
	}
	return rec
}

func TestDRRRepoOptimisticLock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewDRRRepo()
	rec := seedDRR(t, db, domain.DRRActive)

	stale, err := repo.FindByID(ctx, db, rec.ID, false)
	if err != nil {
		t.Fatal(err)
	}

	rec.Geo = "US"
	if err := repo.Save(ctx, db, rec); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if rec.Version != 2 {
		t.Fatalf("version = %d, want 2", rec.Version)
	}

	stale.Geo = "DE"
	err = repo.Save(ctx, db, stale)
	if !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("stale save: got %v, want ErrConcurrentUpdate", err)
	}
	if stale.Version != 1 {
		t.Fatalf("stale version mutated to %d", stale.Version)
	}

	got, err := repo.FindByID(ctx, db, rec.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if got.Geo != "US" || !got.Payout.Equal(decimal.RequireFromString("500")) {
		t.Fatalf("persisted = %+v", got)
	}

	if _, err := repo.FindByID(ctx, db, 9999, false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing drr: got %v", err)
	}
}

func TestDRRRepoDeleteBlockedWhenReferenced(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rec := seedDRR(t, db, domain.DRRCompleted)
	free := seedDRR(t, db, domain.DRRActive)

	v := domain.NewValidation(rec, "")
	if err := NewValidationRepo().Create(ctx, db, v); err != nil {
		t.Fatal(err)
	}

	if err := NewDRRRepo().Delete(ctx, db, rec.ID); !errors.Is(err, domain.ErrRecordInUse) {
		t.Fatalf("delete referenced drr: got %v", err)
	}
	if err := NewDRRRepo().Delete(ctx, db, free.ID); err != nil {
		t.Fatalf("delete free drr: %v", err)
	}
	if err := NewDRRRepo().Delete(ctx, db, free.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("delete twice: got %v", err)
	}
}

func TestDRRRepoList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedDRR(t, db, domain.DRRActive)
	seedDRR(t, db, domain.DRRCompleted)

	out, err := NewDRRRepo().List(ctx, db, domain.DRRFilter{Status: domain.DRRCompleted, Month: "2024-05"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Status != domain.DRRCompleted {
		t.Fatalf("list = %+v", out)
	}
	if _, err := NewDRRRepo().List(ctx, db, domain.DRRFilter{Month: "May"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad month: got %v", err)
	}
}

func TestValidationRepoUniquePerDRR(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rec := seedDRR(t, db, domain.DRRCompleted)
	repo := NewValidationRepo()

	if err := repo.Create(ctx, db, domain.NewValidation(rec, "")); err != nil {
		t.Fatal(err)
	}
	err := repo.Create(ctx, db, domain.NewValidation(rec, "again"))
	if !errors.Is(err, domain.ErrDuplicateSettlement) {
		t.Fatalf("second validation: got %v, want ErrDuplicateSettlement", err)
	}

	v, err := repo.FindByDRR(ctx, db, rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	v.ApprovePayout = decimal.RequireFromString("450")
	if err := repo.Save(ctx, db, v); err != nil {
		t.Fatal(err)
	}
	got, err := repo.FindByID(ctx, db, v.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.ApprovePayout.StringFixed(2) != "450.00" || got.Month != "2024-05" {
		t.Fatalf("validation = %+v", got)
	}
}

func TestSequenceRepoIsMonotonicPerParty(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewSequenceRepo()
	if err := SeedSequences(ctx, db); err != nil {
		t.Fatal(err)
	}

	for want := int64(1); want <= 3; want++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			got, err := repo.Next(ctx, tx, domain.PartyPublisher)
			if err != nil {
				return err
			}
			if got != want {
				return fmt.Errorf("publisher seq = %d, want %d", got, want)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.Next(ctx, db, domain.PartyAdvertiser)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("advertiser seq = %d, want 1", got)
	}
}

func TestSequenceRepoSeedsFromExistingInvoices(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	invoices := NewInvoiceRepo()
	for i := 1; i <= 2; i++ {
		inv := &domain.Invoice{
			Number:    domain.FormatInvoiceNumber(domain.PartyAdvertiser, int64(i)),
			PartyType: domain.PartyAdvertiser,
			Currency:  "INR",
			IssueDate: time.Now().UTC(),
			DueDate:   time.Now().UTC(),
		}
		if err := invoices.Create(ctx, db, inv); err != nil {
			t.Fatal(err)
		}
	}

	got, err := NewSequenceRepo().Next(ctx, db, domain.PartyAdvertiser)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Fatalf("seq = %d, want 3", got)
	}
}

func TestInvoiceRepoLinesAndOverdue(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewInvoiceRepo()
	today := time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)

	inv := &domain.Invoice{
		Number:    "INV-000001",
		PartyType: domain.PartyAdvertiser,
		Currency:  "INR",
		IssueDate: today.AddDate(0, 0, -40),
		DueDate:   today.AddDate(0, 0, -10),
		Lines: []domain.InvoiceLine{
			{Description: "second", SortOrder: 2, Quantity: decimal.NewFromInt(1), UnitRate: decimal.NewFromInt(10)},
			{Description: "first", SortOrder: 1, Quantity: decimal.NewFromInt(1), UnitRate: decimal.NewFromInt(20)},
		},
	}
	if err := repo.Create(ctx, db, inv); err != nil {
		t.Fatal(err)
	}
	paid := &domain.Invoice{
		Number:    "INV-000002",
		PartyType: domain.PartyAdvertiser,
		Status:    domain.InvoicePaid,
		Currency:  "INR",
		IssueDate: today.AddDate(0, 0, -40),
		DueDate:   today.AddDate(0, 0, -10),
	}
	if err := repo.Create(ctx, db, paid); err != nil {
		t.Fatal(err)
	}

	dup := &domain.Invoice{Number: "INV-000001", PartyType: domain.PartyAdvertiser, Currency: "INR", IssueDate: today, DueDate: today}
	if err := repo.Create(ctx, db, dup); !errors.Is(err, domain.ErrDuplicateSettlement) {
		t.Fatalf("duplicate number: got %v", err)
	}

	got, err := repo.FindByID(ctx, db, inv.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Lines) != 2 || got.Lines[0].Description != "first" {
		t.Fatalf("lines not ordered: %+v", got.Lines)
	}

	line := got.Lines[1]
	line.Description = "renamed"
	if err := repo.SaveLine(ctx, db, &line); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteLine(ctx, db, inv.ID, got.Lines[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteLine(ctx, db, inv.ID, got.Lines[0].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("delete missing line: got %v", err)
	}

	overdue, err := repo.ListOverdue(ctx, db, today)
	if err != nil {
		t.Fatal(err)
	}
	if len(overdue) != 1 || overdue[0].ID != inv.ID {
		t.Fatalf("overdue = %+v", overdue)
	}
	if len(overdue[0].Lines) != 1 || overdue[0].Lines[0].Description != "renamed" {
		t.Fatalf("overdue lines = %+v", overdue[0].Lines)
	}
}

type countingRateRepo struct {
	domain.RateRepository
	lists int
}

func (c *countingRateRepo) List(ctx context.Context) ([]domain.CurrencyRate, error) {
	c.lists++
	return c.RateRepository.List(ctx)
}

func TestCachedRateRepo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := &countingRateRepo{RateRepository: NewRateRepo(db)}
	cached := NewCachedRateRepo(base, 4, time.Minute)

	if err := cached.Upsert(ctx, []domain.CurrencyRate{{Currency: "usd", Rate: decimal.RequireFromString("0.012")}}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		rates, err := cached.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(rates) != 1 || rates[0].Currency != "USD" {
			t.Fatalf("rates = %+v", rates)
		}
	}
	if base.lists != 1 {
		t.Fatalf("underlying List called %d times, want 1", base.lists)
	}

	if err := cached.Upsert(ctx, []domain.CurrencyRate{{Currency: "USD", Rate: decimal.RequireFromString("0.013")}}); err != nil {
		t.Fatal(err)
	}
	rates, err := cached.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if base.lists != 2 || !rates[0].Rate.Equal(decimal.RequireFromString("0.013")) {
		t.Fatalf("cache not invalidated: lists=%d rates=%+v", base.lists, rates)
	}
}

func TestOutboxRepo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewOutboxRepo(db)
	rec := seedDRR(t, db, domain.DRRCompleted)

	for i := 0; i < 2; i++ {
		ev, err := domain.NewOutboxEvent(domain.SettlementEvent{Kind: domain.EventValidated, At: time.Now().Add(time.Duration(i) * time.Second)}, domain.Settlement{DRR: rec})
		if err != nil {
			t.Fatal(err)
		}
		if err := repo.Append(ctx, db, ev); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := repo.FetchUnpublished(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d", len(pending))
	}
	now := time.Now()
	if err := repo.MarkPublished(ctx, pending[0].ID, now); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkFailed(ctx, pending[1].ID, "broker down", now); err != nil {
		t.Fatal(err)
	}

	pending, err = repo.FetchUnpublished(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].LastError != "broker down" {
		t.Fatalf("after mark = %+v", pending)
	}
}

func TestOutboxRepoOrdersBySeqOnTiedTimestamps(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewOutboxRepo(db)
	rec := seedDRR(t, db, domain.DRRApproved)

	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	kinds := []domain.EventKind{domain.EventInvoiceApproved, domain.EventPaid}
	for _, kind := range kinds {
		ev, err := domain.NewOutboxEvent(domain.SettlementEvent{Kind: kind, At: at}, domain.Settlement{DRR: rec})
		if err != nil {
			t.Fatal(err)
		}
		if err := repo.Append(ctx, db, ev); err != nil {
			t.Fatal(err)
		}
		if ev.Seq == 0 {
			t.Fatalf("%s: seq not assigned", kind)
		}
	}

	pending, err := repo.FetchUnpublished(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].Kind != kinds[0] || pending[1].Kind != kinds[1] || pending[0].Seq >= pending[1].Seq {
		t.Fatalf("pending = %+v", pending)
	}
}
