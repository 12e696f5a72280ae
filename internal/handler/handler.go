// Package handler содержит HTTP-обработчики API программы лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/painter-loyalty/internal/middleware"
	"github.com/mmeshcher/painter-loyalty/internal/model"
	"github.com/mmeshcher/painter-loyalty/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateSerial(ctx context.Context, serialNumber string, price decimal.Decimal) (*service.CreateSerialResult, error)
	LookupSerial(ctx context.Context, serialNumber string) (model.Serial, error)
	StockSummary(ctx context.Context) (model.StockSummary, error)
	CreatePainter(ctx context.Context, name *string) (model.Painter, error)
	GetPainter(ctx context.Context, id int64) (model.Painter, error)
	Consume(ctx context.Context, serialNumber string, painterID int64) (model.ConsumeResult, error)
	Redeem(ctx context.Context, painterID int64, amount decimal.Decimal) (model.Redemption, error)
	PendingBalance(ctx context.Context, painterID int64) (decimal.Decimal, error)
	Summary(ctx context.Context, painterID int64) (model.CommissionSummary, error)
	Accruals(ctx context.Context, painterID int64) ([]model.Accrual, error)
	Redemptions(ctx context.Context, painterID int64) ([]model.Redemption, error)
	PaintersSummary(ctx context.Context) ([]model.PainterStats, error)
	Insights(ctx context.Context, painterID int64) (*model.Insights, error)
}

// Handler реализует HTTP-обработчики API программы лояльности.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	apiKey         string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, apiKey string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		apiKey:         apiKey,
	}
}

// maxBodySize ограничивает размер тела запроса.
const maxBodySize = 64 << 10

var errMalformedBody = errors.New("malformed request body")

// decodeJSON читает тело запроса строго по схеме: неизвестные поля и лишние данные отклоняются.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return errMalformedBody
	}
	if dec.More() {
		return errMalformedBody
	}
	return nil
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindInvalidFormat:
		return http.StatusUnprocessableEntity
	case model.KindInvalidPrice, model.KindInvalidAmount:
		return http.StatusBadRequest
	case model.KindDuplicateSerial, model.KindAlreadyConsumed:
		return http.StatusConflict
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindInsufficientBalance:
		return http.StatusPaymentRequired
	case model.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError отдаёт клиенту вид ошибки как есть. Текст внутренних ошибок не раскрывается.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	kind := model.KindOf(err)
	status := statusFor(kind)

	resp := errorResponse{
		Error:   string(kind),
		Message: err.Error(),
	}
	if status == http.StatusInternalServerError {
		resp.Message = http.StatusText(status)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "BadRequest", Message: message})
}

// parseMoney разбирает денежное поле запроса. Отсутствующее поле и null дают
// невалидный NullDecimal без ошибки; нечисловое значение возвращает sentinel.
func parseMoney(raw json.RawMessage, sentinel error) (decimal.NullDecimal, error) {
	var d decimal.NullDecimal
	if len(raw) == 0 {
		return d, nil
	}
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: not a number", sentinel)
	}
	return d, nil
}

// amount сериализует сумму числом JSON без потери точности.
func amount(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

type serialResponse struct {
	SerialNumber string      `json:"serialNumber"`
	Price        json.Number `json:"price"`
	IsConsumed   bool        `json:"isConsumed"`
	ConsumedBy   *int64      `json:"consumedBy,omitempty"`
	ConsumedAt   *string     `json:"consumedAt,omitempty"`
	QRCodePath   string      `json:"qrCodePath,omitempty"`
	CreatedAt    string      `json:"createdAt"`
}

func newSerialResponse(s model.Serial) serialResponse {
	return serialResponse{
		SerialNumber: s.SerialNumber,
		Price:        amount(s.Price),
		IsConsumed:   s.IsConsumed,
		ConsumedBy:   s.ConsumedBy,
		ConsumedAt:   formatTime(s.ConsumedAt),
		QRCodePath:   s.QRCodePath,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
	}
}

type createSerialRequest struct {
	SerialNumber string          `json:"serialNumber"`
	Price        json.RawMessage `json:"price"`
	MRP          json.RawMessage `json:"mrp"`
}

type createSerialResponse struct {
	Success bool           `json:"success"`
	Data    serialResponse `json:"data"`
	QRError string         `json:"qrError,omitempty"`
}

// CreateSerial регистрирует новый серийный номер.
func (h *Handler) CreateSerial(w http.ResponseWriter, r *http.Request) {
	var req createSerialRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	price, err := parseMoney(req.Price, model.ErrInvalidPrice)
	if err != nil {
		h.writeError(w, "create serial", err)
		return
	}
	if !price.Valid {
		price, err = parseMoney(req.MRP, model.ErrInvalidPrice)
		if err != nil {
			h.writeError(w, "create serial", err)
			return
		}
	}
	if !price.Valid {
		h.writeError(w, "create serial", model.ErrInvalidPrice)
		return
	}

	res, err := h.service.CreateSerial(r.Context(), req.SerialNumber, price.Decimal)
	if err != nil {
		h.writeError(w, "create serial", err, zap.String("serial", req.SerialNumber))
		return
	}

	resp := createSerialResponse{
		Success: true,
		Data:    newSerialResponse(res.Serial),
	}
	if res.QRError != nil {
		resp.QRError = res.QRError.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

type lookupSerialResponse struct {
	Exists     bool         `json:"exists"`
	Price      *json.Number `json:"price,omitempty"`
	IsConsumed *bool        `json:"isConsumed,omitempty"`
}

// LookupSerial сообщает, существует ли серийный номер, и его цену.
func (h *Handler) LookupSerial(w http.ResponseWriter, r *http.Request) {
	serialNumber := chi.URLParam(r, "serialNumber")

	s, err := h.service.LookupSerial(r.Context(), serialNumber)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeJSON(w, http.StatusOK, lookupSerialResponse{Exists: false})
			return
		}
		h.writeError(w, "lookup serial", err, zap.String("serial", serialNumber))
		return
	}

	price := amount(s.Price)
	consumed := s.IsConsumed
	writeJSON(w, http.StatusOK, lookupSerialResponse{
		Exists:     true,
		Price:      &price,
		IsConsumed: &consumed,
	})
}

type stockSummaryResponse struct {
	InStock  int64 `json:"inStock"`
	Consumed int64 `json:"consumed"`
}

// StockSummary возвращает количество серийных номеров на складе и погашенных.
func (h *Handler) StockSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.StockSummary(r.Context())
	if err != nil {
		h.writeError(w, "stock summary", err)
		return
	}

	writeJSON(w, http.StatusOK, stockSummaryResponse{InStock: s.InStock, Consumed: s.Consumed})
}

type painterResponse struct {
	ID   int64   `json:"id"`
	Name *string `json:"name"`
}

type createPainterRequest struct {
	Name *string `json:"name"`
}

type painterEnvelope struct {
	Success bool            `json:"success"`
	User    painterResponse `json:"user"`
}

// CreatePainter регистрирует нового маляра.
func (h *Handler) CreatePainter(w http.ResponseWriter, r *http.Request) {
	var req createPainterRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, err.Error())
		return
	}
	if req.Name != nil && *req.Name == "" {
		req.Name = nil
	}

	p, err := h.service.CreatePainter(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, "create painter", err)
		return
	}

	writeJSON(w, http.StatusOK, painterEnvelope{
		Success: true,
		User:    painterResponse{ID: p.ID, Name: p.Name},
	})
}

type loginRequest struct {
	UserID int64 `json:"userId"`
}

// Login проверяет существование маляра и выдаёт подписанный cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "userId required")
		return
	}
	if req.UserID <= 0 {
		badRequest(w, "userId required")
		return
	}

	p, err := h.service.GetPainter(r.Context(), req.UserID)
	if err != nil {
		h.writeError(w, "login", err, zap.Int64("painterID", req.UserID))
		return
	}

	h.authMiddleware.SetAuthCookie(w, p.ID)
	writeJSON(w, http.StatusOK, painterEnvelope{
		Success: true,
		User:    painterResponse{ID: p.ID, Name: p.Name},
	})
}

type painterSummaryResponse struct {
	UserID            int64       `json:"userId"`
	Name              *string     `json:"name,omitempty"`
	TotalSold         int64       `json:"totalSold"`
	TotalAccrued      json.Number `json:"totalCommission"`
	ClaimedCommission json.Number `json:"claimedCommission"`
	PendingCommission json.Number `json:"pendingCommission"`
	LastConsumedAt    *string     `json:"lastConsumedAt,omitempty"`
}

// PaintersSummary возвращает сводку по всем малярам.
func (h *Handler) PaintersSummary(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.PaintersSummary(r.Context())
	if err != nil {
		h.writeError(w, "painters summary", err)
		return
	}

	resp := make([]painterSummaryResponse, 0, len(list))
	for _, st := range list {
		resp = append(resp, painterSummaryResponse{
			UserID:            st.PainterID,
			Name:              st.Name,
			TotalSold:         st.ConsumedCount,
			TotalAccrued:      amount(st.TotalAccrued),
			ClaimedCommission: amount(st.TotalRedeemed),
			PendingCommission: amount(st.Pending),
			LastConsumedAt:    formatTime(st.LastConsumedAt),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
