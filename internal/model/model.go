// Package model содержит доменные сущности программы лояльности маляров.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Serial описывает серийный номер единицы продукции и его состояние.
type Serial struct {
	SerialNumber string
	Price        decimal.Decimal
	IsConsumed   bool
	ConsumedBy   *int64
	ConsumedAt   *time.Time
	QRCodePath   string
	CreatedAt    time.Time
}

// Painter представляет участника программы лояльности.
type Painter struct {
	ID        int64
	Name      *string
	CreatedAt time.Time
}

// Accrual описывает начисление комиссии за погашенный серийный номер.
type Accrual struct {
	ID           int64
	PainterID    int64
	SerialNumber string
	Amount       decimal.Decimal
	CreatedAt    time.Time
}

// Redemption описывает факт вывода комиссии маляром.
type Redemption struct {
	ID        int64
	PainterID int64
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// CommissionSummary содержит итоги по начислениям и выводам маляра.
type CommissionSummary struct {
	TotalAccrued  decimal.Decimal
	TotalRedeemed decimal.Decimal
	Pending       decimal.Decimal
}

// NewCommissionSummary вычисляет остаток по суммам начислений и выводов.
func NewCommissionSummary(accrued, redeemed decimal.Decimal) CommissionSummary {
	return CommissionSummary{
		TotalAccrued:  accrued,
		TotalRedeemed: redeemed,
		Pending:       accrued.Sub(redeemed),
	}
}

// PainterStats агрегирует данные маляра для аналитики и сводной панели.
type PainterStats struct {
	PainterID      int64
	Name           *string
	ConsumedCount  int64
	LastConsumedAt *time.Time
	CommissionSummary
}

// StockSummary содержит количество серийных номеров на складе и погашенных.
type StockSummary struct {
	InStock  int64
	Consumed int64
}

// ConsumeResult возвращается после успешного погашения серийного номера.
type ConsumeResult struct {
	Serial           Serial
	CommissionEarned decimal.Decimal
}

// Insights содержит рекомендации внешнего генератора аналитики.
type Insights struct {
	Summary                string `json:"summary,omitempty"`
	Suggestion             string `json:"suggestion,omitempty"`
	NextPurchasePrediction string `json:"nextPurchasePrediction,omitempty"`
	Motivation             string `json:"motivation,omitempty"`
	RiskScore              *int   `json:"riskScore,omitempty"`
	Raw                    string `json:"raw,omitempty"`
}
