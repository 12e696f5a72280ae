package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/painter-loyalty/internal/insights"
	"github.com/mmeshcher/painter-loyalty/internal/middleware"
	"github.com/mmeshcher/painter-loyalty/internal/model"
	"github.com/mmeshcher/painter-loyalty/internal/repository"
	"github.com/mmeshcher/painter-loyalty/internal/service"
)

const testAPIKey = "test-key"

type stubService struct {
	createResp  *service.CreateSerialResult
	createErr   error
	createPrice decimal.Decimal

	lookupResp model.Serial
	lookupErr  error

	stockResp model.StockSummary

	painterResp model.Painter
	painterErr  error

	consumeResp      model.ConsumeResult
	consumeErr       error
	consumePainterID int64

	redeemErr    error
	redeemAmount decimal.Decimal

	pendingResp decimal.Decimal
	summaryResp model.CommissionSummary

	accrualsResp    []model.Accrual
	redemptionsResp []model.Redemption
	statsResp       []model.PainterStats

	insightsResp *model.Insights
	insightsErr  error
}

func (s *stubService) CreateSerial(ctx context.Context, serialNumber string, price decimal.Decimal) (*service.CreateSerialResult, error) {
	s.createPrice = price
	return s.createResp, s.createErr
}

func (s *stubService) LookupSerial(ctx context.Context, serialNumber string) (model.Serial, error) {
	return s.lookupResp, s.lookupErr
}

func (s *stubService) StockSummary(ctx context.Context) (model.StockSummary, error) {
	return s.stockResp, nil
}

func (s *stubService) CreatePainter(ctx context.Context, name *string) (model.Painter, error) {
	return s.painterResp, s.painterErr
}

func (s *stubService) GetPainter(ctx context.Context, id int64) (model.Painter, error) {
	return s.painterResp, s.painterErr
}

func (s *stubService) Consume(ctx context.Context, serialNumber string, painterID int64) (model.ConsumeResult, error) {
	s.consumePainterID = painterID
	return s.consumeResp, s.consumeErr
}

func (s *stubService) Redeem(ctx context.Context, painterID int64, amount decimal.Decimal) (model.Redemption, error) {
	s.redeemAmount = amount
	return model.Redemption{PainterID: painterID, Amount: amount}, s.redeemErr
}

func (s *stubService) PendingBalance(ctx context.Context, painterID int64) (decimal.Decimal, error) {
	return s.pendingResp, nil
}

func (s *stubService) Summary(ctx context.Context, painterID int64) (model.CommissionSummary, error) {
	return s.summaryResp, nil
}

func (s *stubService) Accruals(ctx context.Context, painterID int64) ([]model.Accrual, error) {
	return s.accrualsResp, nil
}

func (s *stubService) Redemptions(ctx context.Context, painterID int64) ([]model.Redemption, error) {
	return s.redemptionsResp, nil
}

func (s *stubService) PaintersSummary(ctx context.Context) ([]model.PainterStats, error) {
	return s.statsResp, nil
}

func (s *stubService) Insights(ctx context.Context, painterID int64) (*model.Insights, error) {
	return s.insightsResp, s.insightsErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, zap.NewNop(), auth, testAPIKey)
}

// do выполняет запрос через полный роутер. painterID > 0 добавляет cookie маляра.
func do(t *testing.T, h *Handler, method, target, body string, painterID int64, admin bool) *http.Response {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if admin {
		req.Header.Set(middleware.APIKeyHeader, testAPIKey)
	}
	if painterID > 0 {
		cookieRec := httptest.NewRecorder()
		h.authMiddleware.SetAuthCookie(cookieRec, painterID)
		req.AddCookie(cookieRec.Result().Cookies()[0])
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	return rec.Result()
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()

	var m map[string]any
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(&m))
	return m
}

func TestCreateSerial_Success(t *testing.T) {
	svc := &stubService{
		createResp: &service.CreateSerialResult{
			Serial: model.Serial{
				SerialNumber: "ABC1234567",
				Price:        decimal.RequireFromString("1500.50"),
				QRCodePath:   "qrcodes/ABC1234567.png",
				CreatedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}
	h := newTestHandler(t, svc)

	res := do(t, h, http.MethodPost, "/verify/serial-numbers", `{"serialNumber":"ABC1234567","price":1500.50}`, 0, true)
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := decodeBody(t, res)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, json.Number("1500.5"), data["price"])
	assert.Equal(t, "qrcodes/ABC1234567.png", data["qrCodePath"])
	assert.Equal(t, false, data["isConsumed"])
	assert.NotContains(t, body, "qrError")
}

func TestCreateSerial_MRPAlias(t *testing.T) {
	svc := &stubService{
		createResp: &service.CreateSerialResult{
			Serial:  model.Serial{SerialNumber: "ABC1234567", Price: decimal.NewFromInt(100)},
			QRError: errors.New("disk full"),
		},
	}
	h := newTestHandler(t, svc)

	res := do(t, h, http.MethodPost, "/verify/serial-numbers", `{"serialNumber":"ABC1234567","mrp":100}`, 0, true)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, decimal.NewFromInt(100).Equal(svc.createPrice))

	body := decodeBody(t, res)
	assert.Equal(t, "disk full", body["qrError"])
}

func TestCreateSerial_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		apiKey     bool
		serviceErr error
		wantStatus int
		wantKind   string
	}{
		{
			name:       "missing api key",
			body:       `{"serialNumber":"ABC1234567","price":100}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed json",
			body:       `{"serialNumber":`,
			apiKey:     true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"serialNumber":"ABC1234567","price":100,"color":"red"}`,
			apiKey:     true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing price",
			body:       `{"serialNumber":"ABC1234567"}`,
			apiKey:     true,
			wantStatus: http.StatusBadRequest,
			wantKind:   string(model.KindInvalidPrice),
		},
		{
			name:       "non numeric price",
			body:       `{"serialNumber":"ABC1234567","price":"abc"}`,
			apiKey:     true,
			wantStatus: http.StatusBadRequest,
			wantKind:   string(model.KindInvalidPrice),
		},
		{
			name:       "non numeric mrp",
			body:       `{"serialNumber":"ABC1234567","mrp":{}}`,
			apiKey:     true,
			wantStatus: http.StatusBadRequest,
			wantKind:   string(model.KindInvalidPrice),
		},
		{
			name:       "invalid format",
			body:       `{"serialNumber":"AB12","price":100}`,
			apiKey:     true,
			serviceErr: fmt.Errorf("create serial: %w", model.ErrInvalidFormat),
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   string(model.KindInvalidFormat),
		},
		{
			name:       "duplicate",
			body:       `{"serialNumber":"ABC1234567","price":100}`,
			apiKey:     true,
			serviceErr: fmt.Errorf("create serial: %w", model.ErrDuplicateSerial),
			wantStatus: http.StatusConflict,
			wantKind:   string(model.KindDuplicateSerial),
		},
		{
			name:       "store unavailable",
			body:       `{"serialNumber":"ABC1234567","price":100}`,
			apiKey:     true,
			serviceErr: fmt.Errorf("create serial: %w", model.ErrStoreUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   string(model.KindStoreUnavailable),
		},
		{
			name:       "internal",
			body:       `{"serialNumber":"ABC1234567","price":100}`,
			apiKey:     true,
			serviceErr: errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   string(model.KindInternal),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{createErr: tt.serviceErr})

			res := do(t, h, http.MethodPost, "/verify/serial-numbers", tt.body, 0, tt.apiKey)
			assert.Equal(t, tt.wantStatus, res.StatusCode)

			if tt.wantKind != "" {
				body := decodeBody(t, res)
				assert.Equal(t, tt.wantKind, body["error"])
			}
		})
	}
}

func TestMoneyPrecisionBounded(t *testing.T) {
	svc := service.NewService(repository.NewMemoryRepository(), nil)
	h := newTestHandler(t, svc)

	painter, err := svc.CreatePainter(context.Background(), nil)
	require.NoError(t, err)

	tests := []struct {
		name      string
		target    string
		body      string
		painterID int64
		admin     bool
		wantKind  string
	}{
		{
			name:     "huge price exponent",
			target:   "/verify/serial-numbers",
			body:     `{"serialNumber":"ABC1234567","price":1e50000000}`,
			admin:    true,
			wantKind: string(model.KindInvalidPrice),
		},
		{
			name:     "price beyond scale",
			target:   "/verify/serial-numbers",
			body:     `{"serialNumber":"ABC1234568","price":0.000000001}`,
			admin:    true,
			wantKind: string(model.KindInvalidPrice),
		},
		{
			name:      "tiny redeem amount",
			target:    "/verify/commission/redeem",
			body:      `{"amount":1e-3000000}`,
			painterID: painter.ID,
			wantKind:  string(model.KindInvalidAmount),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := do(t, h, http.MethodPost, tt.target, tt.body, tt.painterID, tt.admin)
			require.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, tt.wantKind, decodeBody(t, res)["error"])
		})
	}

	stock, err := svc.StockSummary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stock.InStock)

	redemptions, err := svc.Redemptions(context.Background(), painter.ID)
	require.NoError(t, err)
	assert.Empty(t, redemptions)
}

func TestLookupSerial(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		h := newTestHandler(t, &stubService{
			lookupResp: model.Serial{SerialNumber: "ABC1234567", Price: decimal.NewFromInt(100)},
		})

		res := do(t, h, http.MethodGet, "/verify/serial-numbers/ABC1234567", "", 0, false)
		require.Equal(t, http.StatusOK, res.StatusCode)

		body := decodeBody(t, res)
		assert.Equal(t, true, body["exists"])
		assert.Equal(t, json.Number("100"), body["price"])
	})

	t.Run("missing", func(t *testing.T) {
		h := newTestHandler(t, &stubService{
			lookupErr: fmt.Errorf("lookup: %w", model.ErrSerialNotFound),
		})

		res := do(t, h, http.MethodGet, "/verify/serial-numbers/XYZ0000000", "", 0, false)
		require.Equal(t, http.StatusOK, res.StatusCode)

		body := decodeBody(t, res)
		assert.Equal(t, false, body["exists"])
		assert.NotContains(t, body, "price")
	})
}

func TestStockSummary(t *testing.T) {
	h := newTestHandler(t, &stubService{stockResp: model.StockSummary{InStock: 3, Consumed: 2}})

	res := do(t, h, http.MethodGet, "/verify/stock-summary", "", 0, true)
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := decodeBody(t, res)
	assert.Equal(t, json.Number("3"), body["inStock"])
	assert.Equal(t, json.Number("2"), body["consumed"])
}

func TestCreatePainter_EmptyBody(t *testing.T) {
	h := newTestHandler(t, &stubService{painterResp: model.Painter{ID: 7}})

	res := do(t, h, http.MethodPost, "/verify/users", "", 0, true)
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := decodeBody(t, res)
	user := body["user"].(map[string]any)
	assert.Equal(t, json.Number("7"), user["id"])
}

func TestLogin_SetsCookie(t *testing.T) {
	h := newTestHandler(t, &stubService{painterResp: model.Painter{ID: 7}})

	req := httptest.NewRequest(http.MethodPost, "/verify/login", bytes.NewBufferString(`{"userId":7}`))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("expected auth cookie")
	}
}

func TestLogin_UnknownPainter(t *testing.T) {
	h := newTestHandler(t, &stubService{painterErr: fmt.Errorf("get painter: %w", model.ErrPainterNotFound)})

	res := do(t, h, http.MethodPost, "/verify/login", `{"userId":99}`, 0, false)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	if len(res.Cookies()) != 0 {
		t.Fatalf("unexpected cookie for unknown painter")
	}
}

func TestLogin_MissingUserID(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, http.MethodPost, "/verify/login", `{}`, 0, false)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestConsume_Success(t *testing.T) {
	svc := &stubService{
		consumeResp: model.ConsumeResult{CommissionEarned: decimal.NewFromInt(1)},
	}
	h := newTestHandler(t, svc)

	res := do(t, h, http.MethodPost, "/verify/consume", `{"serialNumber":"ABC1234567"}`, 7, false)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(7), svc.consumePainterID)

	body := decodeBody(t, res)
	assert.Equal(t, json.Number("1"), body["commissionEarned"])
}

func TestConsume_Errors(t *testing.T) {
	tests := []struct {
		name       string
		painterID  int64
		body       string
		serviceErr error
		wantStatus int
	}{
		{
			name:       "no cookie",
			body:       `{"serialNumber":"ABC1234567"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "already consumed",
			painterID:  7,
			body:       `{"serialNumber":"ABC1234567"}`,
			serviceErr: fmt.Errorf("consume: %w", model.ErrAlreadyConsumed),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "not found",
			painterID:  7,
			body:       `{"serialNumber":"XYZ0000000"}`,
			serviceErr: fmt.Errorf("consume: %w", model.ErrSerialNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "invalid format",
			painterID:  7,
			body:       `{"serialNumber":""}`,
			serviceErr: model.ErrInvalidFormat,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "identity only from cookie",
			painterID:  7,
			body:       `{"serialNumber":"ABC1234567","userId":8}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{consumeErr: tt.serviceErr})

			res := do(t, h, http.MethodPost, "/verify/consume", tt.body, tt.painterID, false)
			assert.Equal(t, tt.wantStatus, res.StatusCode)
		})
	}
}

func TestRedeem(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantAmount string
	}{
		{
			name:       "amount",
			body:       `{"amount":0.4}`,
			wantStatus: http.StatusOK,
			wantAmount: "0.4",
		},
		{
			name:       "points alias",
			body:       `{"pointsToRedeem":2}`,
			wantStatus: http.StatusOK,
			wantAmount: "2",
		},
		{
			name:       "missing amount",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "non numeric amount",
			body:       `{"amount":"abc"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "insufficient balance",
			body:       `{"amount":5}`,
			serviceErr: fmt.Errorf("redeem: %w", model.ErrInsufficientBalance),
			wantStatus: http.StatusPaymentRequired,
		},
		{
			name:       "invalid amount",
			body:       `{"amount":-1}`,
			serviceErr: fmt.Errorf("redeem: %w", model.ErrInvalidAmount),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{redeemErr: tt.serviceErr}
			h := newTestHandler(t, svc)

			res := do(t, h, http.MethodPost, "/verify/commission/redeem", tt.body, 7, false)
			require.Equal(t, tt.wantStatus, res.StatusCode)

			if tt.wantAmount != "" {
				assert.True(t, decimal.RequireFromString(tt.wantAmount).Equal(svc.redeemAmount))
				body := decodeBody(t, res)
				assert.Equal(t, json.Number(tt.wantAmount), body["redeemedAmount"])
			}
		})
	}
}

func TestPendingAndSummary(t *testing.T) {
	svc := &stubService{
		pendingResp: decimal.RequireFromString("0.6"),
		summaryResp: model.NewCommissionSummary(decimal.NewFromInt(1), decimal.RequireFromString("0.4")),
	}
	h := newTestHandler(t, svc)

	res := do(t, h, http.MethodGet, "/verify/commission/pending", "", 7, false)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, json.Number("0.6"), decodeBody(t, res)["pendingCommission"])

	res = do(t, h, http.MethodGet, "/verify/commission/summary", "", 7, false)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, json.Number("1"), body["totalAccrued"])
	assert.Equal(t, json.Number("0.4"), body["totalRedeemed"])
	assert.Equal(t, json.Number("0.6"), body["pending"])
}

func TestAccruals_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/verify/commission/accruals", nil)
	rec := httptest.NewRecorder()

	h.authMiddleware.SetAuthCookie(rec, 1)
	cookie := rec.Result().Cookies()[0]
	req.AddCookie(cookie)

	respRec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.Accruals))
	handlerWithAuth.ServeHTTP(respRec, req)

	res := respRec.Result()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestRedemptions_JSONResponse(t *testing.T) {
	now := time.Now().UTC()
	h := newTestHandler(t, &stubService{
		redemptionsResp: []model.Redemption{
			{PainterID: 1, Amount: decimal.RequireFromString("0.4"), CreatedAt: now},
		},
	})

	res := do(t, h, http.MethodGet, "/verify/commission/redemptions", "", 1, false)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
}

func TestPaintersSummary(t *testing.T) {
	name := "Ravi"
	h := newTestHandler(t, &stubService{
		statsResp: []model.PainterStats{
			{
				PainterID:         7,
				Name:              &name,
				ConsumedCount:     2,
				CommissionSummary: model.NewCommissionSummary(decimal.NewFromInt(2), decimal.NewFromInt(1)),
			},
		},
	})

	res := do(t, h, http.MethodGet, "/verify/users/summary", "", 0, true)
	require.Equal(t, http.StatusOK, res.StatusCode)
	defer res.Body.Close()

	var list []map[string]any
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	require.NoError(t, dec.Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, json.Number("7"), list[0]["userId"])
	assert.Equal(t, json.Number("2"), list[0]["totalSold"])
	assert.Equal(t, json.Number("1"), list[0]["claimedCommission"])
	assert.Equal(t, json.Number("1"), list[0]["pendingCommission"])
}

func TestInsights(t *testing.T) {
	tests := []struct {
		name       string
		resp       *model.Insights
		err        error
		wantStatus int
		wantRetry  string
	}{
		{
			name:       "ok",
			resp:       &model.Insights{Summary: "steady buyer"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "disabled",
			err:        service.ErrInsightsDisabled,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "generator failure",
			err:        fmt.Errorf("%w: %w", service.ErrInsightsFailed, errors.New("upstream 500")),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "generator rate limited",
			err:        fmt.Errorf("%w: %w", service.ErrInsightsFailed, &insights.RateLimitError{RetryAfter: 30 * time.Second}),
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "30",
		},
		{
			name:       "unknown painter",
			err:        fmt.Errorf("painter stats: %w", model.ErrPainterNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "store unavailable",
			err:        fmt.Errorf("painter stats: %w", model.ErrStoreUnavailable),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{insightsResp: tt.resp, insightsErr: tt.err})

			res := do(t, h, http.MethodPost, "/verify/ai/insights", "", 7, false)
			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantRetry, res.Header.Get("Retry-After"))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, http.MethodGet, "/metrics", "", 0, false)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
