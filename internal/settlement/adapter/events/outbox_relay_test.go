package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

type memOutbox struct {
	rows      []domain.OutboxEvent
	published map[string]bool
	failed    map[string]string
}

func (m *memOutbox) Append(_ context.Context, _ *gorm.DB, ev *domain.OutboxEvent) error {
	m.rows = append(m.rows, *ev)
	return nil
}

func (m *memOutbox) FetchUnpublished(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	var out []domain.OutboxEvent
	for _, r := range m.rows {
		if !m.published[r.ID] && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkPublished(_ context.Context, id string, _ time.Time) error {
	m.published[id] = true
	return nil
}

func (m *memOutbox) MarkFailed(_ context.Context, id string, errMsg string, _ time.Time) error {
	m.failed[id] = errMsg
	return nil
}

type fakePublisher struct {
	failKey string
	keys    []string
}

func (p *fakePublisher) Publish(_ context.Context, _ string, _ []byte, key string) error {
	if key == p.failKey {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, key)
	return nil
}

func TestOutboxRelayProcessOnce(t *testing.T) {
	t.Parallel()
	box := &memOutbox{published: map[string]bool{}, failed: map[string]string{}}
	for i, id := range []uint{1, 2, 3} {
		ev, err := domain.NewOutboxEvent(
			domain.SettlementEvent{Kind: domain.EventPaid, At: time.Now().Add(time.Duration(i) * time.Second)},
			domain.Settlement{DRR: &domain.DailyRevenueRecord{ID: id}},
		)
		if err != nil {
			t.Fatal(err)
		}
		_ = box.Append(context.Background(), nil, ev)
	}
	pub := &fakePublisher{failKey: "drr-2"}
	relay := NewOutboxRelay(zap.NewNop(), box, pub, time.Second, 10)

	n, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("published = %d, want 2", n)
	}
	if len(box.failed) != 1 {
		t.Fatalf("failed = %+v", box.failed)
	}
	if pub.keys[0] != "drr-1" || pub.keys[1] != "drr-3" {
		t.Fatalf("publish order = %v", pub.keys)
	}

	pub.failKey = ""
	n, err = relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("retry published = %d, want 1", n)
	}
}

type flakyPublisher struct {
	failOnce map[domain.EventKind]bool
	sent     []string
}

func (p *flakyPublisher) Publish(_ context.Context, kind string, _ []byte, key string) error {
	if p.failOnce[domain.EventKind(kind)] {
		delete(p.failOnce, domain.EventKind(kind))
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, key+":"+kind)
	return nil
}

func TestOutboxRelayKeepsOrderWithinKey(t *testing.T) {
	t.Parallel()
	box := &memOutbox{published: map[string]bool{}, failed: map[string]string{}}
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	drr7 := domain.Settlement{DRR: &domain.DailyRevenueRecord{ID: 7}}
	drr8 := domain.Settlement{DRR: &domain.DailyRevenueRecord{ID: 8}}
	for _, item := range []struct {
		kind domain.EventKind
		s    domain.Settlement
	}{
		{domain.EventInvoiceApproved, drr7},
		{domain.EventPaid, drr7},
		{domain.EventPaid, drr8},
	} {
		ev, err := domain.NewOutboxEvent(domain.SettlementEvent{Kind: item.kind, At: at}, item.s)
		if err != nil {
			t.Fatal(err)
		}
		_ = box.Append(context.Background(), nil, ev)
	}
	pub := &flakyPublisher{failOnce: map[domain.EventKind]bool{domain.EventInvoiceApproved: true}}
	relay := NewOutboxRelay(zap.NewNop(), box, pub, time.Second, 10)

	n, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(pub.sent) != 1 || pub.sent[0] != "drr-8:Paid" {
		t.Fatalf("first pass published %d: %v", n, pub.sent)
	}

	n, err = relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"drr-8:Paid", "drr-7:InvoiceApproved", "drr-7:Paid"}
	if n != 2 || len(pub.sent) != len(want) {
		t.Fatalf("second pass published %d: %v", n, pub.sent)
	}
	for i := range want {
		if pub.sent[i] != want[i] {
			t.Fatalf("publish order = %v, want %v", pub.sent, want)
		}
	}
}

func TestOutboxRelayRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	box := &memOutbox{published: map[string]bool{}, failed: map[string]string{}}
	relay := NewOutboxRelay(zap.NewNop(), box, &fakePublisher{}, 10*time.Millisecond, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := relay.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v", err)
	}
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	t.Parallel()
	if _, err := NewKafkaPublisher(nil, "settlement.events"); err == nil {
		t.Fatal("expected error without brokers")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "settlement.events")
	if err != nil {
		t.Fatal(err)
	}
	_ = p.Close()
}
