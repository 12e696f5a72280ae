package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/painter-loyalty/internal/model"
)

var errAbort = errors.New("abort")

// runStoreTests проверяет контракт Store одинаково для всех реализаций.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create and get serial", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Millisecond)

		created, err := s.CreateSerial(ctx, "ABC1234567", decimal.NewFromInt(200), now)
		require.NoError(t, err)
		assert.False(t, created.IsConsumed)
		assert.Nil(t, created.ConsumedBy)
		assert.Nil(t, created.ConsumedAt)

		got, err := s.GetSerial(ctx, "ABC1234567")
		require.NoError(t, err)
		assert.True(t, got.Price.Equal(decimal.NewFromInt(200)))

		_, err = s.CreateSerial(ctx, "ABC1234567", decimal.NewFromInt(1), now)
		assert.ErrorIs(t, err, model.ErrDuplicateSerial)

		_, err = s.GetSerial(ctx, "ZZZ0000000")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("qr path", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.CreateSerial(ctx, "QRC0000001", decimal.NewFromInt(10), time.Now())
		require.NoError(t, err)
		require.NoError(t, s.SetSerialQRPath(ctx, "QRC0000001", "qrcodes/QRC0000001.png"))

		got, err := s.GetSerial(ctx, "QRC0000001")
		require.NoError(t, err)
		assert.Equal(t, "qrcodes/QRC0000001.png", got.QRCodePath)

		assert.ErrorIs(t, s.SetSerialQRPath(ctx, "QRC0000002", "x"), model.ErrNotFound)
	})

	t.Run("consume and accrue commit together", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Millisecond)

		p, err := s.CreatePainter(ctx, nil, now)
		require.NoError(t, err)
		_, err = s.CreateSerial(ctx, "TXN0000001", decimal.NewFromInt(100), now)
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			serial, err := tx.MarkConsumed(ctx, "TXN0000001", p.ID, now)
			if err != nil {
				return err
			}
			_, err = tx.InsertAccrual(ctx, p.ID, serial.SerialNumber, decimal.NewFromInt(1), now)
			return err
		})
		require.NoError(t, err)

		got, err := s.GetSerial(ctx, "TXN0000001")
		require.NoError(t, err)
		assert.True(t, got.IsConsumed)
		require.NotNil(t, got.ConsumedBy)
		assert.Equal(t, p.ID, *got.ConsumedBy)
		require.NotNil(t, got.ConsumedAt)

		accrued, redeemed, err := s.CommissionTotals(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, accrued.Equal(decimal.NewFromInt(1)))
		assert.True(t, redeemed.IsZero())

		stock, err := s.StockSummary(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.StockSummary{InStock: 0, Consumed: 1}, stock)

		err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.MarkConsumed(ctx, "TXN0000001", p.ID, now)
			return err
		})
		assert.ErrorIs(t, err, model.ErrAlreadyConsumed)
	})

	t.Run("rollback discards consumption", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now()

		p, err := s.CreatePainter(ctx, nil, now)
		require.NoError(t, err)
		_, err = s.CreateSerial(ctx, "RBK0000001", decimal.NewFromInt(100), now)
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.MarkConsumed(ctx, "RBK0000001", p.ID, now); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		got, err := s.GetSerial(ctx, "RBK0000001")
		require.NoError(t, err)
		assert.False(t, got.IsConsumed)

		accruals, err := s.AccrualsByPainter(ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, accruals)
	})

	t.Run("unknown painter", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now()

		_, err := s.CreateSerial(ctx, "UNK0000001", decimal.NewFromInt(100), now)
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.MarkConsumed(ctx, "UNK0000001", 987654, now)
			return err
		})
		assert.ErrorIs(t, err, model.ErrPainterNotFound)

		err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.LockPainter(ctx, 987654)
		})
		assert.ErrorIs(t, err, model.ErrPainterNotFound)

		_, err = s.GetPainter(ctx, 987654)
		assert.ErrorIs(t, err, model.ErrPainterNotFound)
	})

	t.Run("redemptions and stats", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		name := "Ivan"

		p, err := s.CreatePainter(ctx, &name, now)
		require.NoError(t, err)
		_, err = s.CreateSerial(ctx, "STA0000001", decimal.NewFromInt(500), now)
		require.NoError(t, err)

		err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.MarkConsumed(ctx, "STA0000001", p.ID, now); err != nil {
				return err
			}
			if _, err := tx.InsertAccrual(ctx, p.ID, "STA0000001", decimal.NewFromInt(5), now); err != nil {
				return err
			}
			if err := tx.LockPainter(ctx, p.ID); err != nil {
				return err
			}
			_, err := tx.InsertRedemption(ctx, p.ID, decimal.NewFromInt(2), now)
			return err
		})
		require.NoError(t, err)

		redemptions, err := s.RedemptionsByPainter(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, redemptions, 1)
		assert.True(t, redemptions[0].Amount.Equal(decimal.NewFromInt(2)))

		st, err := s.PainterStats(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), st.ConsumedCount)
		require.NotNil(t, st.Name)
		assert.Equal(t, "Ivan", *st.Name)
		require.NotNil(t, st.LastConsumedAt)
		assert.True(t, st.LastConsumedAt.Equal(now))
		assert.True(t, st.Pending.Equal(decimal.NewFromInt(3)))

		all, err := s.ListPainterStats(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, all)
		assert.Equal(t, p.ID, all[len(all)-1].PainterID)
	})

	t.Run("concurrent mark consumed", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now()

		p, err := s.CreatePainter(ctx, nil, now)
		require.NoError(t, err)
		_, err = s.CreateSerial(ctx, "CON0000001", decimal.NewFromInt(100), now)
		require.NoError(t, err)

		const n = 10
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
					if _, err := tx.MarkConsumed(ctx, "CON0000001", p.ID, now); err != nil {
						return err
					}
					_, err := tx.InsertAccrual(ctx, p.ID, "CON0000001", decimal.NewFromInt(1), now)
					return err
				})
			}(i)
		}
		wg.Wait()

		var ok int
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, model.ErrAlreadyConsumed)
		}
		assert.Equal(t, 1, ok)

		accruals, err := s.AccrualsByPainter(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, accruals, 1)
	})
}
