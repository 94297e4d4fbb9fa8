package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/xxz807/finscale/settlement/internal/settlement/domain"
)

// Config 应用配置 (configs/config.yaml + SETTLEMENT_* 环境变量)
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Settlement SettlementConfig  `mapstructure:"settlement"`
	Kafka      KafkaConfig       `mapstructure:"kafka"`
	Rates      map[string]string `mapstructure:"rates"` // cmd/ratesync 使用的批量汇率表
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug / release
	LogLevel     string        `mapstructure:"log_level"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres / mysql / sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent / error / warn / info
}

// RedisConfig Addr 为空时使用进程内锁
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type SettlementConfig struct {
	HomeCurrency   string        `mapstructure:"home_currency"`
	TaxRate        string        `mapstructure:"tax_rate"`
	TaxSplit       string        `mapstructure:"tax_split"`
	TaxPublishers  bool          `mapstructure:"tax_publishers"`
	InvoiceDueDays int           `mapstructure:"invoice_due_days"`
	RateCacheSize  int           `mapstructure:"rate_cache_size"`
	RateCacheTTL   time.Duration `mapstructure:"rate_cache_ttl"`
}

type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	Topic         string        `mapstructure:"topic"`
	RelayInterval time.Duration `mapstructure:"relay_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

// Load 读取配置
// 查找顺序: 参数 path > $SETTLEMENT_CONFIG > configs/config.yaml；文件缺失时只用默认值和环境变量
func Load(path string) (*Config, error) {
	// .env 可选
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("SETTLEMENT_CONFIG")
	}
	if path == "" {
		path = "configs/config.yaml"
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix("SETTLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults 每个键都要有默认值，AutomaticEnv 才能在 Unmarshal 时覆盖
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 30*time.Second)

	v.SetDefault("settlement.home_currency", "INR")
	v.SetDefault("settlement.tax_rate", "0.18")
	v.SetDefault("settlement.tax_split", "0.5")
	v.SetDefault("settlement.tax_publishers", true)
	v.SetDefault("settlement.invoice_due_days", 30)
	v.SetDefault("settlement.rate_cache_size", 64)
	v.SetDefault("settlement.rate_cache_ttl", 5*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "settlement.events")
	v.SetDefault("kafka.relay_interval", 2*time.Second)
	v.SetDefault("kafka.batch_size", 100)
}

// Validate 启动前校验 (税率必须是合法小数)
func (c *Config) Validate() error {
	if _, err := decimal.NewFromString(c.Settlement.TaxRate); err != nil {
		return fmt.Errorf("settlement.tax_rate %q: %w", c.Settlement.TaxRate, err)
	}
	split, err := decimal.NewFromString(c.Settlement.TaxSplit)
	if err != nil {
		return fmt.Errorf("settlement.tax_split %q: %w", c.Settlement.TaxSplit, err)
	}
	if split.IsNegative() || split.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("settlement.tax_split must be within [0, 1], got %s", split)
	}
	if strings.TrimSpace(c.Settlement.HomeCurrency) == "" {
		return errors.New("settlement.home_currency is required")
	}
	for code, rate := range c.Rates {
		if _, err := decimal.NewFromString(rate); err != nil {
			return fmt.Errorf("rates.%s %q: %w", code, rate, err)
		}
	}
	return nil
}

// TaxPolicy 由配置构造税务策略 (Validate 已保证可解析)
func (s SettlementConfig) TaxPolicy() domain.TaxPolicy {
	return domain.TaxPolicy{
		HomeCurrency: s.HomeCurrency,
		Rate:         decimal.RequireFromString(s.TaxRate),
		SplitA:       decimal.RequireFromString(s.TaxSplit),
		TaxPublisher: s.TaxPublishers,
	}
}

// RateTable 批量汇率表 (币种代码统一大写)
func (c *Config) RateTable(now time.Time) []domain.CurrencyRate {
	out := make([]domain.CurrencyRate, 0, len(c.Rates))
	for code, rate := range c.Rates {
		out = append(out, domain.CurrencyRate{
			Currency:    domain.NormalizeCurrency(code),
			Rate:        decimal.RequireFromString(rate),
			LastUpdated: now,
		})
	}
	return out
}
