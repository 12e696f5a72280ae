package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/painter-loyalty/internal/metrics"
	"github.com/mmeshcher/painter-loyalty/internal/model"
	"github.com/mmeshcher/painter-loyalty/internal/repository"
	"github.com/mmeshcher/painter-loyalty/internal/validation"
)

// Consume погашает серийный номер от имени маляра и начисляет комиссию.
// Погашение и начисление фиксируются одной транзакцией хранилища: либо оба, либо ни одного.
func (s *Service) Consume(ctx context.Context, serialNumber string, painterID int64) (model.ConsumeResult, error) {
	res, err := s.consume(ctx, serialNumber, painterID)
	metrics.ObserveConsumption(err, res.CommissionEarned)
	if err != nil {
		return model.ConsumeResult{}, err
	}

	s.logger.Info("serial consumed",
		zap.String("serial", serialNumber),
		zap.Int64("painterID", painterID),
		zap.String("commission", res.CommissionEarned.String()),
	)
	return res, nil
}

func (s *Service) consume(ctx context.Context, serialNumber string, painterID int64) (model.ConsumeResult, error) {
	if err := validation.SerialNumber(serialNumber); err != nil {
		return model.ConsumeResult{}, err
	}

	serial, err := s.registry.Lookup(ctx, serialNumber)
	if err != nil {
		return model.ConsumeResult{}, err
	}
	if serial.IsConsumed {
		return model.ConsumeResult{}, fmt.Errorf("%w: %s", model.ErrAlreadyConsumed, serialNumber)
	}

	// Цена неизменна после создания, поэтому комиссию можно посчитать до транзакции.
	amount := s.policy.Compute(serial.Price)
	now := s.now()

	var consumed model.Serial
	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		consumed, err = s.registry.MarkConsumed(ctx, tx, serialNumber, painterID, now)
		if err != nil {
			return err
		}
		_, err = s.ledger.Accrue(ctx, tx, painterID, serialNumber, amount, now)
		return err
	})
	if err != nil {
		return model.ConsumeResult{}, fmt.Errorf("consume %s: %w", serialNumber, err)
	}

	return model.ConsumeResult{Serial: consumed, CommissionEarned: amount}, nil
}
