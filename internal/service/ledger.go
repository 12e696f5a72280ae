package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/painter-loyalty/internal/model"
	"github.com/mmeshcher/painter-loyalty/internal/repository"
	"github.com/mmeshcher/painter-loyalty/internal/validation"
)

// Ledger ведёт журнал начислений и выводов комиссии. Баланс всегда вычисляется из журнала.
type Ledger struct {
	store repository.Store
}

// NewLedger создаёт журнал комиссий.
func NewLedger(store repository.Store) *Ledger {
	return &Ledger{store: store}
}

// Accrue добавляет начисление в рамках транзакции tx. Не более одного начисления
// на серийный номер обеспечивает вызывающий код.
func (l *Ledger) Accrue(ctx context.Context, tx repository.Tx, painterID int64, serialNumber string, amount decimal.Decimal, now time.Time) (model.Accrual, error) {
	if err := validation.Amount(amount); err != nil {
		return model.Accrual{}, err
	}
	return tx.InsertAccrual(ctx, painterID, serialNumber, amount, now)
}

// Redeem выводит amount с баланса маляра. Проверка остатка и запись выполняются
// под блокировкой маляра, поэтому параллельные выводы не уводят баланс в минус.
func (l *Ledger) Redeem(ctx context.Context, painterID int64, amount decimal.Decimal, now time.Time) (model.Redemption, error) {
	if err := validation.Amount(amount); err != nil {
		return model.Redemption{}, err
	}

	var res model.Redemption
	err := l.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.LockPainter(ctx, painterID); err != nil {
			return err
		}

		accrued, redeemed, err := tx.CommissionTotals(ctx, painterID)
		if err != nil {
			return err
		}

		pending := accrued.Sub(redeemed)
		if amount.GreaterThan(pending) {
			return fmt.Errorf("%w: requested %s, pending %s", model.ErrInsufficientBalance, amount, pending)
		}

		res, err = tx.InsertRedemption(ctx, painterID, amount, now)
		return err
	})
	if err != nil {
		return model.Redemption{}, fmt.Errorf("redeem: %w", err)
	}

	return res, nil
}

// PendingBalance возвращает сумму начислений за вычетом выводов.
func (l *Ledger) PendingBalance(ctx context.Context, painterID int64) (decimal.Decimal, error) {
	summary, err := l.Summary(ctx, painterID)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.Pending, nil
}

// Summary возвращает итоги журнала маляра.
func (l *Ledger) Summary(ctx context.Context, painterID int64) (model.CommissionSummary, error) {
	accrued, redeemed, err := l.store.CommissionTotals(ctx, painterID)
	if err != nil {
		return model.CommissionSummary{}, fmt.Errorf("commission totals: %w", err)
	}
	return model.NewCommissionSummary(accrued, redeemed), nil
}
