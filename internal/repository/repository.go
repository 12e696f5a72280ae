// Package repository содержит реализации хранилища серийных номеров и журнала комиссий.
package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/painter-loyalty/internal/model"
)

// Tx описывает операции, выполняемые в рамках одной транзакции хранилища.
// Изменения, сделанные через Tx, фиксируются только при успешном завершении InTx.
type Tx interface {
	// MarkConsumed переводит серийный номер в погашенное состояние.
	MarkConsumed(ctx context.Context, serialNumber string, painterID int64, now time.Time) (model.Serial, error)
	// InsertAccrual добавляет запись о начислении комиссии.
	InsertAccrual(ctx context.Context, painterID int64, serialNumber string, amount decimal.Decimal, now time.Time) (model.Accrual, error)
	// LockPainter сериализует операции над балансом маляра до конца транзакции.
	LockPainter(ctx context.Context, painterID int64) error
	// CommissionTotals возвращает суммы начислений и выводов маляра.
	CommissionTotals(ctx context.Context, painterID int64) (accrued, redeemed decimal.Decimal, err error)
	// InsertRedemption добавляет запись о выводе комиссии.
	InsertRedemption(ctx context.Context, painterID int64, amount decimal.Decimal, now time.Time) (model.Redemption, error)
}

// TxFunc выполняется внутри транзакции. Возврат ошибки откатывает все изменения.
type TxFunc func(ctx context.Context, tx Tx) error

// Store объединяет операции чтения и записи, общие для всех реализаций хранилища.
type Store interface {
	Close() error

	CreateSerial(ctx context.Context, serialNumber string, price decimal.Decimal, now time.Time) (model.Serial, error)
	GetSerial(ctx context.Context, serialNumber string) (model.Serial, error)
	SetSerialQRPath(ctx context.Context, serialNumber, path string) error
	StockSummary(ctx context.Context) (model.StockSummary, error)

	CreatePainter(ctx context.Context, name *string, now time.Time) (model.Painter, error)
	GetPainter(ctx context.Context, id int64) (model.Painter, error)

	CommissionTotals(ctx context.Context, painterID int64) (accrued, redeemed decimal.Decimal, err error)
	AccrualsByPainter(ctx context.Context, painterID int64) ([]model.Accrual, error)
	RedemptionsByPainter(ctx context.Context, painterID int64) ([]model.Redemption, error)
	PainterStats(ctx context.Context, painterID int64) (model.PainterStats, error)
	ListPainterStats(ctx context.Context) ([]model.PainterStats, error)

	InTx(ctx context.Context, fn TxFunc) error
}
