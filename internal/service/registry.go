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

// Registry управляет жизненным циклом серийных номеров.
type Registry struct {
	store repository.Store
}

// NewRegistry создаёт реестр серийных номеров.
func NewRegistry(store repository.Store) *Registry {
	return &Registry{store: store}
}

// Create регистрирует непогашенный серийный номер с указанной ценой.
func (r *Registry) Create(ctx context.Context, serialNumber string, price decimal.Decimal, now time.Time) (model.Serial, error) {
	if err := validation.SerialNumber(serialNumber); err != nil {
		return model.Serial{}, err
	}
	if err := validation.Price(price); err != nil {
		return model.Serial{}, err
	}

	s, err := r.store.CreateSerial(ctx, serialNumber, price, now)
	if err != nil {
		return model.Serial{}, fmt.Errorf("create serial: %w", err)
	}
	return s, nil
}

// Lookup возвращает серийный номер или ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, serialNumber string) (model.Serial, error) {
	return r.store.GetSerial(ctx, serialNumber)
}

// MarkConsumed погашает серийный номер в рамках транзакции tx.
// Изменение становится видимым только вместе с остальными записями транзакции.
func (r *Registry) MarkConsumed(ctx context.Context, tx repository.Tx, serialNumber string, painterID int64, now time.Time) (model.Serial, error) {
	return tx.MarkConsumed(ctx, serialNumber, painterID, now)
}

// StockSummary возвращает количество серийных номеров по состоянию погашения.
func (r *Registry) StockSummary(ctx context.Context) (model.StockSummary, error) {
	return r.store.StockSummary(ctx)
}
