package domain

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces 金额统一保留两位小数
const MoneyPlaces = 2

// RoundMoney 四舍五入 (half-up, 远离零) 到两位小数
// 所有金额输出都必须经过这里，保证重复计算结果逐字节一致
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ==========================================
// RevenueCalculator 收入 / 成本 / 利润推导
// ==========================================

// RevenueCalculator 纯函数，无共享状态，可任意并发调用
type RevenueCalculator struct{}

// Derive 覆盖值 > 0 时取覆盖值，否则 conversions × rate
func (RevenueCalculator) Derive(override decimal.Decimal, conversions int64, rate decimal.Decimal) decimal.Decimal {
	if override.GreaterThan(decimal.Zero) {
		return RoundMoney(override)
	}
	if conversions <= 0 {
		return RoundMoney(decimal.Zero)
	}
	return RoundMoney(decimal.NewFromInt(conversions).Mul(rate))
}

// Apply 覆写 DRR 的派生字段 (revenue / payout / profit / validation_required)
func (c RevenueCalculator) Apply(r *DailyRevenueRecord) {
	r.Revenue = c.Derive(r.AdvertiserRevenue, r.AdvertiserConversions, r.CampaignRevenueRate)
	r.Payout = c.Derive(r.PublisherRevenue, r.PublisherConversions, r.PublisherPayoutRate)
	r.Profit = RoundMoney(r.Revenue.Sub(r.Payout))
	r.ValidationRequired = r.Status.RequiresValidation()
}

// ==========================================
// TaxCalculator 税额计算
// ==========================================

// TaxPolicy 税务配置 (注入，不写死在状态机里)
type TaxPolicy struct {
	HomeCurrency string          // 本位币，只有本位币发票计税
	Rate         decimal.Decimal // 例如 0.18
	SplitA       decimal.Decimal // 第一分量占比，例如 0.5 (CGST / SGST 各一半)
	TaxPublisher bool            // 发布商本位币发票是否计税
}

// DefaultTaxPolicy 观察到的业务规则：INR 18%，9% + 9%
func DefaultTaxPolicy() TaxPolicy {
	return TaxPolicy{
		HomeCurrency: "INR",
		Rate:         decimal.RequireFromString("0.18"),
		SplitA:       decimal.RequireFromString("0.5"),
		TaxPublisher: true,
	}
}

// TaxBreakdown 税额及拆分
type TaxBreakdown struct {
	Total      decimal.Decimal `json:"total_tax"`
	ComponentA decimal.Decimal `json:"component_a"`
	ComponentB decimal.Decimal `json:"component_b"`
}

func zeroTax() TaxBreakdown {
	z := RoundMoney(decimal.Zero)
	return TaxBreakdown{Total: z, ComponentA: z, ComponentB: z}
}

// TaxCalculator 无状态税额计算器
type TaxCalculator struct {
	policy TaxPolicy
}

func NewTaxCalculator(policy TaxPolicy) TaxCalculator {
	policy.HomeCurrency = NormalizeCurrency(policy.HomeCurrency)
	return TaxCalculator{policy: policy}
}

// HomeCurrency 本位币
func (c TaxCalculator) HomeCurrency() string { return c.policy.HomeCurrency }

// Compute 本位币按税率计税，其它币种全部为零
// ComponentB = Total - ComponentA，保证两分量之和恒等于总税额
func (c TaxCalculator) Compute(subtotal decimal.Decimal, currency string) TaxBreakdown {
	if NormalizeCurrency(currency) != c.policy.HomeCurrency {
		return zeroTax()
	}
	total := RoundMoney(subtotal.Mul(c.policy.Rate))
	a := RoundMoney(total.Mul(c.policy.SplitA))
	return TaxBreakdown{Total: total, ComponentA: a, ComponentB: RoundMoney(total.Sub(a))}
}

// ComputeFor 在 Compute 之上叠加发票级规则 (免税标记、发布商是否计税)
func (c TaxCalculator) ComputeFor(subtotal decimal.Decimal, currency string, party PartyType, exempt bool) TaxBreakdown {
	if exempt {
		return zeroTax()
	}
	if party == PartyPublisher && !c.policy.TaxPublisher {
		return zeroTax()
	}
	return c.Compute(subtotal, currency)
}

// ==========================================
// CurrencyConverter 汇率换算 (仅供参考，不阻塞结算)
// ==========================================

// Conversion 换算结果
type Conversion struct {
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	Rate         decimal.Decimal `json:"rate"`
	UsedFallback bool            `json:"used_fallback"`
}

// CurrencyConverter 持有一份汇率快照 (1 单位本位币 = rate 单位目标币)
type CurrencyConverter struct {
	home  string
	rates map[string]decimal.Decimal
}

func NewCurrencyConverter(home string, rates []CurrencyRate) *CurrencyConverter {
	table := make(map[string]decimal.Decimal, len(rates))
	for _, r := range rates {
		table[NormalizeCurrency(r.Currency)] = r.Rate
	}
	return &CurrencyConverter{home: NormalizeCurrency(home), rates: table}
}

// Convert 返回换算后的金额；找不到汇率时返回原金额并置 usedFallback
func (c *CurrencyConverter) Convert(amount decimal.Decimal, target string) (decimal.Decimal, bool) {
	q := c.Quote(amount, target)
	return q.Amount, q.UsedFallback
}

// Quote 同 Convert，额外带出实际使用的汇率
func (c *CurrencyConverter) Quote(amount decimal.Decimal, target string) Conversion {
	target = NormalizeCurrency(target)
	if target == c.home {
		return Conversion{Currency: target, Amount: amount, Rate: decimal.NewFromInt(1)}
	}
	rate, ok := c.rates[target]
	if !ok || !rate.GreaterThan(decimal.Zero) {
		return Conversion{Currency: target, Amount: amount, Rate: decimal.NewFromInt(1), UsedFallback: true}
	}
	return Conversion{Currency: target, Amount: RoundMoney(amount.Mul(rate)), Rate: rate}
}
