// Package service реализует бизнес-логику программы лояльности: реестр серийных
// номеров, журнал комиссий и погашение серийного номера с начислением комиссии.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/painter-loyalty/internal/commission"
	"github.com/mmeshcher/painter-loyalty/internal/metrics"
	"github.com/mmeshcher/painter-loyalty/internal/model"
	"github.com/mmeshcher/painter-loyalty/internal/repository"
)

// ErrInsightsDisabled возвращается, если генератор аналитики не настроен.
var ErrInsightsDisabled = errors.New("insights generator is not configured")

// ErrInsightsFailed оборачивает ошибки внешнего генератора аналитики.
var ErrInsightsFailed = errors.New("insights generation failed")

// QRRenderer формирует изображение QR-кода для серийного номера и возвращает путь к нему.
type QRRenderer interface {
	Render(ctx context.Context, serialNumber string) (string, error)
}

// InsightsGenerator формирует рекомендации по агрегированным данным маляра.
type InsightsGenerator interface {
	Generate(ctx context.Context, stats model.PainterStats) (*model.Insights, error)
}

// Service содержит бизнес-логику программы лояльности.
type Service struct {
	store    repository.Store
	registry *Registry
	ledger   *Ledger
	policy   commission.Policy
	qr       QRRenderer
	insights InsightsGenerator
	logger   *zap.Logger
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithQRRenderer подключает формирование QR-кодов после создания серийного номера.
func WithQRRenderer(r QRRenderer) Option {
	return func(s *Service) { s.qr = r }
}

// WithInsights подключает генератор аналитики.
func WithInsights(g InsightsGenerator) Option {
	return func(s *Service) { s.insights = g }
}

// WithLogger задаёт логгер сервиса.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService создаёт сервис поверх хранилища с указанной политикой комиссии.
func NewService(store repository.Store, policy commission.Policy, opts ...Option) *Service {
	if policy == nil {
		policy = commission.Default()
	}

	s := &Service{
		store:    store,
		registry: NewRegistry(store),
		ledger:   NewLedger(store),
		policy:   policy,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// CreateSerialResult описывает созданный серийный номер и результат формирования QR-кода.
type CreateSerialResult struct {
	Serial  model.Serial
	QRError error
}

// CreateSerial регистрирует серийный номер и формирует для него QR-код.
// Ошибка формирования QR-кода не отменяет создание и возвращается в QRError.
func (s *Service) CreateSerial(ctx context.Context, serialNumber string, price decimal.Decimal) (*CreateSerialResult, error) {
	serial, err := s.registry.Create(ctx, serialNumber, price, s.now())
	if err != nil {
		return nil, err
	}

	res := &CreateSerialResult{Serial: serial}
	if s.qr == nil {
		return res, nil
	}

	path, err := s.qr.Render(ctx, serialNumber)
	if err == nil {
		err = s.store.SetSerialQRPath(ctx, serialNumber, path)
	}
	if err != nil {
		s.logger.Warn("qr code generation failed", zap.String("serial", serialNumber), zap.Error(err))
		res.QRError = fmt.Errorf("qr code: %w", err)
		return res, nil
	}

	res.Serial.QRCodePath = path
	return res, nil
}

// LookupSerial возвращает серийный номер.
func (s *Service) LookupSerial(ctx context.Context, serialNumber string) (model.Serial, error) {
	return s.registry.Lookup(ctx, serialNumber)
}

// StockSummary возвращает количество серийных номеров на складе и погашенных.
func (s *Service) StockSummary(ctx context.Context) (model.StockSummary, error) {
	return s.registry.StockSummary(ctx)
}

// CreatePainter регистрирует нового маляра.
func (s *Service) CreatePainter(ctx context.Context, name *string) (model.Painter, error) {
	return s.store.CreatePainter(ctx, name, s.now())
}

// GetPainter возвращает маляра по идентификатору.
func (s *Service) GetPainter(ctx context.Context, id int64) (model.Painter, error) {
	return s.store.GetPainter(ctx, id)
}

// Redeem выводит комиссию маляра.
func (s *Service) Redeem(ctx context.Context, painterID int64, amount decimal.Decimal) (model.Redemption, error) {
	r, err := s.ledger.Redeem(ctx, painterID, amount, s.now())
	metrics.ObserveRedemption(err, amount)
	return r, err
}

// PendingBalance возвращает невыведенный остаток комиссии маляра.
func (s *Service) PendingBalance(ctx context.Context, painterID int64) (decimal.Decimal, error) {
	return s.ledger.PendingBalance(ctx, painterID)
}

// Summary возвращает итоги по начислениям и выводам маляра.
func (s *Service) Summary(ctx context.Context, painterID int64) (model.CommissionSummary, error) {
	return s.ledger.Summary(ctx, painterID)
}

// Accruals возвращает историю начислений маляра.
func (s *Service) Accruals(ctx context.Context, painterID int64) ([]model.Accrual, error) {
	return s.store.AccrualsByPainter(ctx, painterID)
}

// Redemptions возвращает историю выводов маляра.
func (s *Service) Redemptions(ctx context.Context, painterID int64) ([]model.Redemption, error) {
	return s.store.RedemptionsByPainter(ctx, painterID)
}

// PaintersSummary возвращает сводку по всем малярам для панели администратора.
func (s *Service) PaintersSummary(ctx context.Context) ([]model.PainterStats, error) {
	return s.store.ListPainterStats(ctx)
}

// Insights запрашивает рекомендации для маляра у внешнего генератора.
func (s *Service) Insights(ctx context.Context, painterID int64) (*model.Insights, error) {
	if s.insights == nil {
		return nil, ErrInsightsDisabled
	}

	stats, err := s.store.PainterStats(ctx, painterID)
	if err != nil {
		return nil, err
	}

	res, err := s.insights.Generate(ctx, stats)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsightsFailed, err)
	}
	return res, nil
}
