package database

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"

	"github.com/xxz807/finscale/settlement/internal/platform/config"
	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	db, err := Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:database_open?mode=memory&cache=shared",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if !IsSQLite(db) {
		t.Fatalf("dialector = %s, want sqlite", db.Dialector.Name())
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []interface{}{
		&domain.DailyRevenueRecord{}, &domain.Validation{}, &domain.Invoice{}, &domain.InvoiceLine{},
		&domain.InvoiceSequence{}, &domain.CurrencyRate{}, &domain.OutboxEvent{},
	} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("table for %T missing", table)
		}
	}

	var fk int
	if err := db.Raw("PRAGMA foreign_keys").Scan(&fk).Error; err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestSQLiteForeignKeysOnEveryConnection(t *testing.T) {
	db, err := Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:database_pool?mode=memory&cache=shared",
		MaxOpenConns: 2,
		LogLevel:     "silent",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx := context.Background()
	first, err := sqlDB.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := sqlDB.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	for i, conn := range []*sql.Conn{first, second} {
		var fk int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatal(err)
		}
		if fk != 1 {
			t.Errorf("conn %d foreign_keys = %d, want 1", i, fk)
		}
	}
}

func TestSQLiteDSN(t *testing.T) {
	cases := map[string]string{
		"settlement.db":                       "settlement.db?_foreign_keys=on",
		"file:x?mode=memory":                  "file:x?mode=memory&_foreign_keys=on",
		"file:x?mode=memory&_foreign_keys=on": "file:x?mode=memory&_foreign_keys=on",
		"file:x?_fk=1":                        "file:x?_fk=1",
	}
	for in, want := range cases {
		if got := sqliteDSN(in); got != want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "unsupported database driver") {
		t.Fatalf("err = %v", err)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"silent": logger.Silent,
		"ERROR":  logger.Error,
		"":       logger.Warn,
		"info":   logger.Info,
	}
	for in, want := range cases {
		if got := logLevel(in); got != want {
			t.Errorf("logLevel(%q) = %d, want %d", in, got, want)
		}
	}
}
