package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
  mode: release
database:
  driver: sqlite
  dsn: "file::memory:"
settlement:
  home_currency: inr
  tax_rate: "0.18"
  tax_split: "0.5"
  tax_publishers: false
  invoice_due_days: 45
rates:
  usd: "0.0120"
  eur: "0.0110"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.Mode != "release" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.MaxOpenConns != 50 {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Settlement.InvoiceDueDays != 45 || cfg.Settlement.RateCacheTTL != 5*time.Minute {
		t.Errorf("settlement = %+v", cfg.Settlement)
	}

	policy := cfg.Settlement.TaxPolicy()
	if policy.TaxPublisher || policy.Rate.String() != "0.18" {
		t.Errorf("policy = %+v", policy)
	}

	rates := cfg.RateTable(time.Now())
	if len(rates) != 2 {
		t.Fatalf("rates = %+v", rates)
	}
	for _, r := range rates {
		if r.Currency != "USD" && r.Currency != "EUR" {
			t.Errorf("currency code not normalized: %s", r.Currency)
		}
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \"8080\"\n")
	t.Setenv("SETTLEMENT_SERVER_PORT", "7070")
	t.Setenv("SETTLEMENT_DATABASE_DSN", "host=db user=settle")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("port = %s, want env override", cfg.Server.Port)
	}
	if cfg.Database.DSN != "host=db user=settle" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Settlement.HomeCurrency != "INR" || !cfg.Settlement.TaxPublishers {
		t.Errorf("defaults not applied: %+v", cfg.Settlement)
	}
}

func TestLoadRejectsBadTaxSplit(t *testing.T) {
	path := writeConfig(t, "settlement:\n  tax_split: \"1.5\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for tax_split outside [0, 1]")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Kafka.BatchSize != 100 {
		t.Errorf("defaults = %+v", cfg)
	}
}
