// Package commission содержит стратегии расчёта комиссии маляра по цене товара.
package commission

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Policy вычисляет комиссию по цене единицы продукции. Реализации не должны иметь побочных эффектов.
type Policy interface {
	Compute(price decimal.Decimal) decimal.Decimal
}

// NoRounding отключает округление в Rate.
const NoRounding int32 = -1

// DefaultRate равна одному проценту.
var DefaultRate = decimal.New(1, -2)

// Rate начисляет фиксированную долю от цены. Знак результата совпадает со знаком цены.
type Rate struct {
	Rate   decimal.Decimal
	Places int32
}

// NewRate создаёт политику с долей rate без округления.
func NewRate(rate decimal.Decimal) Rate {
	return Rate{Rate: rate, Places: NoRounding}
}

// Default возвращает политику по умолчанию: 1% от цены без округления.
func Default() Rate {
	return NewRate(DefaultRate)
}

// Compute реализует Policy.
func (r Rate) Compute(price decimal.Decimal) decimal.Decimal {
	amount := price.Mul(r.Rate)
	if r.Places >= 0 {
		amount = amount.RoundBank(r.Places)
	}
	return amount
}

// Tier задаёт долю комиссии для цен не ниже MinPrice.
type Tier struct {
	MinPrice decimal.Decimal
	Rate     decimal.Decimal
}

// Tiered выбирает долю по наибольшему порогу, не превышающему цену.
// Если ни один порог не подходит, используется Fallback.
type Tiered struct {
	tiers    []Tier
	fallback Policy
}

// NewTiered создаёт ступенчатую политику.
func NewTiered(fallback Policy, tiers ...Tier) *Tiered {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinPrice.GreaterThan(sorted[j].MinPrice)
	})

	return &Tiered{tiers: sorted, fallback: fallback}
}

// Compute реализует Policy.
func (t *Tiered) Compute(price decimal.Decimal) decimal.Decimal {
	for _, tier := range t.tiers {
		if price.GreaterThanOrEqual(tier.MinPrice) {
			return price.Mul(tier.Rate)
		}
	}
	if t.fallback == nil {
		return decimal.Zero
	}
	return t.fallback.Compute(price)
}

// Func адаптирует функцию к интерфейсу Policy.
type Func func(price decimal.Decimal) decimal.Decimal

// Compute реализует Policy.
func (f Func) Compute(price decimal.Decimal) decimal.Decimal {
	return f(price)
}
