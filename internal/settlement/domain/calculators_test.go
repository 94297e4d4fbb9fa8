package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRevenueCalculatorDerive(t *testing.T) {
	t.Parallel()
	calc := RevenueCalculator{}
	cases := []struct {
		name        string
		override    string
		conversions int64
		rate        string
		want        string
	}{
		{"override wins", "500", 10, "20", "500.00"},
		{"falls back to conversions x rate", "0", 10, "20", "200.00"},
		{"negative override ignored", "-5", 3, "1.5", "4.50"},
		{"absent inputs are zero", "0", 0, "0", "0.00"},
		{"half up rounding", "0", 1, "0.125", "0.13"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Derive(dec(tc.override), tc.conversions, dec(tc.rate))
			if got.StringFixed(2) != tc.want {
				t.Fatalf("Derive() = %s, want %s", got.StringFixed(2), tc.want)
			}
		})
	}
}

func TestRevenueCalculatorApplyIsIdempotent(t *testing.T) {
	t.Parallel()
	r := &DailyRevenueRecord{
		Status:                DRRCompleted,
		AdvertiserConversions: 100,
		CampaignRevenueRate:   dec("8.00"),
		PublisherConversions:  100,
		PublisherPayoutRate:   dec("5.00"),
	}
	calc := RevenueCalculator{}
	calc.Apply(r)
	first := [3]string{r.Revenue.String(), r.Payout.String(), r.Profit.String()}
	calc.Apply(r)
	second := [3]string{r.Revenue.String(), r.Payout.String(), r.Profit.String()}

	if first != second {
		t.Fatalf("recomputation changed result: %v -> %v", first, second)
	}
	if r.Revenue.StringFixed(2) != "800.00" || r.Payout.StringFixed(2) != "500.00" || r.Profit.StringFixed(2) != "300.00" {
		t.Fatalf("unexpected totals revenue=%s payout=%s profit=%s", r.Revenue, r.Payout, r.Profit)
	}
	if !r.ValidationRequired {
		t.Fatalf("completed record must require validation")
	}
}

func TestTaxCalculatorCompute(t *testing.T) {
	t.Parallel()
	tax := NewTaxCalculator(DefaultTaxPolicy())

	home := tax.Compute(dec("1000"), "inr")
	if home.Total.StringFixed(2) != "180.00" || home.ComponentA.StringFixed(2) != "90.00" || home.ComponentB.StringFixed(2) != "90.00" {
		t.Fatalf("home tax = %+v", home)
	}

	foreign := tax.Compute(dec("1000"), "USD")
	if !foreign.Total.IsZero() || !foreign.ComponentA.IsZero() || !foreign.ComponentB.IsZero() {
		t.Fatalf("foreign tax must be zero, got %+v", foreign)
	}

	odd := tax.Compute(dec("0.05"), "INR")
	if !odd.ComponentA.Add(odd.ComponentB).Equal(odd.Total) {
		t.Fatalf("components %s + %s != total %s", odd.ComponentA, odd.ComponentB, odd.Total)
	}
}

func TestTaxCalculatorComputeFor(t *testing.T) {
	t.Parallel()
	policy := DefaultTaxPolicy()
	policy.TaxPublisher = false
	tax := NewTaxCalculator(policy)

	if got := tax.ComputeFor(dec("1000"), "INR", PartyPublisher, false); !got.Total.IsZero() {
		t.Errorf("publisher untaxed by policy, got %s", got.Total)
	}
	if got := tax.ComputeFor(dec("1000"), "INR", PartyAdvertiser, false); got.Total.StringFixed(2) != "180.00" {
		t.Errorf("advertiser tax = %s", got.Total)
	}
	if got := tax.ComputeFor(dec("1000"), "INR", PartyAdvertiser, true); !got.Total.IsZero() {
		t.Errorf("exempt invoice taxed: %s", got.Total)
	}
}

func TestCurrencyConverter(t *testing.T) {
	t.Parallel()
	conv := NewCurrencyConverter("INR", []CurrencyRate{
		{Currency: "usd", Rate: dec("0.0120")},
		{Currency: "EUR", Rate: dec("0")},
	})

	cases := []struct {
		target       string
		want         string
		wantFallback bool
	}{
		{"INR", "1000", false},
		{"USD", "12.00", false},
		{"GBP", "1000", true},
		{"EUR", "1000", true},
	}
	for _, tc := range cases {
		got, fallback := conv.Convert(dec("1000"), tc.target)
		if !got.Equal(dec(tc.want)) || fallback != tc.wantFallback {
			t.Errorf("Convert(1000, %s) = (%s, %v), want (%s, %v)", tc.target, got, fallback, tc.want, tc.wantFallback)
		}
	}

	q := conv.Quote(dec("500"), "usd")
	if q.Currency != "USD" || !q.Rate.Equal(dec("0.012")) || q.Amount.StringFixed(2) != "6.00" {
		t.Fatalf("Quote() = %+v", q)
	}
}
