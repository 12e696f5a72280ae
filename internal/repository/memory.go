package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/painter-loyalty/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Все транзакции выполняются под
// одной блокировкой, поэтому погашение и начисление фиксируются вместе.
type MemoryRepository struct {
	mu sync.Mutex

	serials     map[string]model.Serial
	painters    map[int64]model.Painter
	accruals    []model.Accrual
	redemptions []model.Redemption

	nextPainterID    int64
	nextAccrualID    int64
	nextRedemptionID int64
}

var _ Store = (*MemoryRepository)(nil)

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		serials:  make(map[string]model.Serial),
		painters: make(map[int64]model.Painter),
	}
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error {
	return nil
}

func (m *MemoryRepository) CreateSerial(_ context.Context, serialNumber string, price decimal.Decimal, now time.Time) (model.Serial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.serials[serialNumber]; ok {
		return model.Serial{}, fmt.Errorf("%w: %s", model.ErrDuplicateSerial, serialNumber)
	}

	s := model.Serial{
		SerialNumber: serialNumber,
		Price:        price,
		CreatedAt:    now,
	}
	m.serials[serialNumber] = s

	return s, nil
}

func (m *MemoryRepository) GetSerial(_ context.Context, serialNumber string) (model.Serial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.serials[serialNumber]
	if !ok {
		return model.Serial{}, fmt.Errorf("%w: %s", model.ErrSerialNotFound, serialNumber)
	}
	return s, nil
}

func (m *MemoryRepository) SetSerialQRPath(_ context.Context, serialNumber, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.serials[serialNumber]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrSerialNotFound, serialNumber)
	}
	s.QRCodePath = path
	m.serials[serialNumber] = s

	return nil
}

func (m *MemoryRepository) StockSummary(_ context.Context) (model.StockSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s model.StockSummary
	for _, serial := range m.serials {
		if serial.IsConsumed {
			s.Consumed++
		} else {
			s.InStock++
		}
	}
	return s, nil
}

func (m *MemoryRepository) CreatePainter(_ context.Context, name *string, now time.Time) (model.Painter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPainterID++
	p := model.Painter{
		ID:        m.nextPainterID,
		Name:      name,
		CreatedAt: now,
	}
	m.painters[p.ID] = p

	return p, nil
}

func (m *MemoryRepository) GetPainter(_ context.Context, id int64) (model.Painter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.painters[id]
	if !ok {
		return model.Painter{}, fmt.Errorf("%w: %d", model.ErrPainterNotFound, id)
	}
	return p, nil
}

func (m *MemoryRepository) CommissionTotals(_ context.Context, painterID int64) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accrued, redeemed := m.totals(painterID)
	return accrued, redeemed, nil
}

func (m *MemoryRepository) totals(painterID int64) (decimal.Decimal, decimal.Decimal) {
	accrued, redeemed := decimal.Zero, decimal.Zero
	for _, a := range m.accruals {
		if a.PainterID == painterID {
			accrued = accrued.Add(a.Amount)
		}
	}
	for _, r := range m.redemptions {
		if r.PainterID == painterID {
			redeemed = redeemed.Add(r.Amount)
		}
	}
	return accrued, redeemed
}

func (m *MemoryRepository) AccrualsByPainter(_ context.Context, painterID int64) ([]model.Accrual, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Accrual
	for i := len(m.accruals) - 1; i >= 0; i-- {
		if m.accruals[i].PainterID == painterID {
			res = append(res, m.accruals[i])
		}
	}
	return res, nil
}

func (m *MemoryRepository) RedemptionsByPainter(_ context.Context, painterID int64) ([]model.Redemption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Redemption
	for i := len(m.redemptions) - 1; i >= 0; i-- {
		if m.redemptions[i].PainterID == painterID {
			res = append(res, m.redemptions[i])
		}
	}
	return res, nil
}

func (m *MemoryRepository) PainterStats(_ context.Context, painterID int64) (model.PainterStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.painters[painterID]
	if !ok {
		return model.PainterStats{}, fmt.Errorf("%w: %d", model.ErrPainterNotFound, painterID)
	}
	return m.stats(p), nil
}

func (m *MemoryRepository) ListPainterStats(_ context.Context) ([]model.PainterStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make([]model.PainterStats, 0, len(m.painters))
	for _, p := range m.painters {
		res = append(res, m.stats(p))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].PainterID < res[j].PainterID })

	return res, nil
}

func (m *MemoryRepository) stats(p model.Painter) model.PainterStats {
	st := model.PainterStats{
		PainterID: p.ID,
		Name:      p.Name,
	}
	for _, s := range m.serials {
		if s.ConsumedBy == nil || *s.ConsumedBy != p.ID {
			continue
		}
		st.ConsumedCount++
		if st.LastConsumedAt == nil || s.ConsumedAt.After(*st.LastConsumedAt) {
			at := *s.ConsumedAt
			st.LastConsumedAt = &at
		}
	}
	st.CommissionSummary = model.NewCommissionSummary(m.totals(p.ID))

	return st
}

// InTx выполняет fn под блокировкой хранилища. Изменения копятся в memTx и
// применяются, только если fn завершилась без ошибки.
func (m *MemoryRepository) InTx(ctx context.Context, fn TxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		repo:    m,
		serials: make(map[string]model.Serial),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for number, s := range tx.serials {
		m.serials[number] = s
	}
	m.accruals = append(m.accruals, tx.accruals...)
	m.redemptions = append(m.redemptions, tx.redemptions...)
	m.nextAccrualID += int64(len(tx.accruals))
	m.nextRedemptionID += int64(len(tx.redemptions))

	return nil
}

type memTx struct {
	repo *MemoryRepository

	serials     map[string]model.Serial
	accruals    []model.Accrual
	redemptions []model.Redemption
}

func (t *memTx) serial(serialNumber string) (model.Serial, bool) {
	if s, ok := t.serials[serialNumber]; ok {
		return s, true
	}
	s, ok := t.repo.serials[serialNumber]
	return s, ok
}

func (t *memTx) MarkConsumed(_ context.Context, serialNumber string, painterID int64, now time.Time) (model.Serial, error) {
	s, ok := t.serial(serialNumber)
	if !ok {
		return model.Serial{}, fmt.Errorf("%w: %s", model.ErrSerialNotFound, serialNumber)
	}
	if s.IsConsumed {
		return model.Serial{}, fmt.Errorf("%w: %s", model.ErrAlreadyConsumed, serialNumber)
	}
	if _, ok := t.repo.painters[painterID]; !ok {
		return model.Serial{}, fmt.Errorf("%w: %d", model.ErrPainterNotFound, painterID)
	}

	consumedBy := painterID
	consumedAt := now
	s.IsConsumed = true
	s.ConsumedBy = &consumedBy
	s.ConsumedAt = &consumedAt
	t.serials[serialNumber] = s

	return s, nil
}

func (t *memTx) InsertAccrual(_ context.Context, painterID int64, serialNumber string, amount decimal.Decimal, now time.Time) (model.Accrual, error) {
	if _, ok := t.repo.painters[painterID]; !ok {
		return model.Accrual{}, fmt.Errorf("%w: %d", model.ErrPainterNotFound, painterID)
	}
	if _, ok := t.serial(serialNumber); !ok {
		return model.Accrual{}, fmt.Errorf("%w: %s", model.ErrSerialNotFound, serialNumber)
	}
	for _, a := range t.repo.accruals {
		if a.SerialNumber == serialNumber {
			return model.Accrual{}, fmt.Errorf("%w: %s", model.ErrAlreadyConsumed, serialNumber)
		}
	}
	for _, a := range t.accruals {
		if a.SerialNumber == serialNumber {
			return model.Accrual{}, fmt.Errorf("%w: %s", model.ErrAlreadyConsumed, serialNumber)
		}
	}

	a := model.Accrual{
		ID:           t.repo.nextAccrualID + int64(len(t.accruals)) + 1,
		PainterID:    painterID,
		SerialNumber: serialNumber,
		Amount:       amount,
		CreatedAt:    now,
	}
	t.accruals = append(t.accruals, a)

	return a, nil
}

func (t *memTx) LockPainter(_ context.Context, painterID int64) error {
	if _, ok := t.repo.painters[painterID]; !ok {
		return fmt.Errorf("%w: %d", model.ErrPainterNotFound, painterID)
	}
	return nil
}

func (t *memTx) CommissionTotals(_ context.Context, painterID int64) (decimal.Decimal, decimal.Decimal, error) {
	accrued, redeemed := t.repo.totals(painterID)
	for _, a := range t.accruals {
		if a.PainterID == painterID {
			accrued = accrued.Add(a.Amount)
		}
	}
	for _, r := range t.redemptions {
		if r.PainterID == painterID {
			redeemed = redeemed.Add(r.Amount)
		}
	}
	return accrued, redeemed, nil
}

func (t *memTx) InsertRedemption(_ context.Context, painterID int64, amount decimal.Decimal, now time.Time) (model.Redemption, error) {
	if _, ok := t.repo.painters[painterID]; !ok {
		return model.Redemption{}, fmt.Errorf("%w: %d", model.ErrPainterNotFound, painterID)
	}

	r := model.Redemption{
		ID:        t.repo.nextRedemptionID + int64(len(t.redemptions)) + 1,
		PainterID: painterID,
		Amount:    amount,
		CreatedAt: now,
	}
	t.redemptions = append(t.redemptions, r)

	return r, nil
}
