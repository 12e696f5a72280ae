package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/painter-loyalty/internal/insights"
	"github.com/mmeshcher/painter-loyalty/internal/middleware"
	"github.com/mmeshcher/painter-loyalty/internal/model"
	"github.com/mmeshcher/painter-loyalty/internal/service"
)

type consumeRequest struct {
	SerialNumber string `json:"serialNumber"`
}

type consumeResponse struct {
	Success          bool        `json:"success"`
	Message          string      `json:"message"`
	CommissionEarned json.Number `json:"commissionEarned"`
}

// Consume погашает серийный номер от имени текущего маляра.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	painterID, ok := middleware.GetPainterIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req consumeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	res, err := h.service.Consume(r.Context(), req.SerialNumber, painterID)
	if err != nil {
		h.writeError(w, "consume", err, zap.Int64("painterID", painterID), zap.String("serial", req.SerialNumber))
		return
	}

	writeJSON(w, http.StatusOK, consumeResponse{
		Success:          true,
		Message:          "Consumed successfully",
		CommissionEarned: amount(res.CommissionEarned),
	})
}

type redeemRequest struct {
	Amount         json.RawMessage `json:"amount"`
	PointsToRedeem json.RawMessage `json:"pointsToRedeem"`
}

type redeemResponse struct {
	Success        bool        `json:"success"`
	Message        string      `json:"message"`
	RedeemedAmount json.Number `json:"redeemedAmount"`
}

// Redeem выводит комиссию текущего маляра.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	painterID, ok := middleware.GetPainterIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	sum, err := parseMoney(req.Amount, model.ErrInvalidAmount)
	if err != nil {
		h.writeError(w, "redeem", err)
		return
	}
	if !sum.Valid {
		sum, err = parseMoney(req.PointsToRedeem, model.ErrInvalidAmount)
		if err != nil {
			h.writeError(w, "redeem", err)
			return
		}
	}
	if !sum.Valid {
		h.writeError(w, "redeem", model.ErrInvalidAmount)
		return
	}

	rd, err := h.service.Redeem(r.Context(), painterID, sum.Decimal)
	if err != nil {
		h.writeError(w, "redeem", err, zap.Int64("painterID", painterID))
		return
	}

	writeJSON(w, http.StatusOK, redeemResponse{
		Success:        true,
		Message:        "Redeemed successfully",
		RedeemedAmount: amount(rd.Amount),
	})
}

type pendingResponse struct {
	PendingCommission json.Number `json:"pendingCommission"`
}

// PendingBalance возвращает невыведенную комиссию текущего маляра.
func (h *Handler) PendingBalance(w http.ResponseWriter, r *http.Request) {
	painterID, ok := middleware.GetPainterIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	pending, err := h.service.PendingBalance(r.Context(), painterID)
	if err != nil {
		h.writeError(w, "pending balance", err, zap.Int64("painterID", painterID))
		return
	}

	writeJSON(w, http.StatusOK, pendingResponse{PendingCommission: amount(pending)})
}

type summaryResponse struct {
	TotalAccrued  json.Number `json:"totalAccrued"`
	TotalRedeemed json.Number `json:"totalRedeemed"`
	Pending       json.Number `json:"pending"`
}

// Summary возвращает итоги начислений и выводов текущего маляра.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	painterID, ok := middleware.GetPainterIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	s, err := h.service.Summary(r.Context(), painterID)
	if err != nil {
		h.writeError(w, "commission summary", err, zap.Int64("painterID", painterID))
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		TotalAccrued:  amount(s.TotalAccrued),
		TotalRedeemed: amount(s.TotalRedeemed),
		Pending:       amount(s.Pending),
	})
}

type accrualResponse struct {
	SerialNumber string      `json:"serialNumber"`
	Amount       json.Number `json:"amount"`
	CreatedAt    string      `json:"createdAt"`
}

// Accruals возвращает историю начислений текущего маляра.
func (h *Handler) Accruals(w http.ResponseWriter, r *http.Request) {
	painterID, ok := middleware.GetPainterIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	accruals, err := h.service.Accruals(r.Context(), painterID)
	if err != nil {
		h.writeError(w, "get accruals", err, zap.Int64("painterID", painterID))
		return
	}

	if len(accruals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]accrualResponse, 0, len(accruals))
	for _, a := range accruals {
		resp = append(resp, accrualResponse{
			SerialNumber: a.SerialNumber,
			Amount:       amount(a.Amount),
			CreatedAt:    a.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type redemptionResponse struct {
	Amount    json.Number `json:"amount"`
	CreatedAt string      `json:"createdAt"`
}

// Redemptions возвращает историю выводов текущего маляра.
func (h *Handler) Redemptions(w http.ResponseWriter, r *http.Request) {
	painterID, ok := middleware.GetPainterIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	redemptions, err := h.service.Redemptions(r.Context(), painterID)
	if err != nil {
		h.writeError(w, "get redemptions", err, zap.Int64("painterID", painterID))
		return
	}

	if len(redemptions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]redemptionResponse, 0, len(redemptions))
	for _, rd := range redemptions {
		resp = append(resp, redemptionResponse{
			Amount:    amount(rd.Amount),
			CreatedAt: rd.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type insightsResponse struct {
	UserID   int64           `json:"userId"`
	Insights *model.Insights `json:"insights"`
}

// Insights возвращает рекомендации внешнего генератора для текущего маляра.
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	painterID, ok := middleware.GetPainterIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	res, err := h.service.Insights(r.Context(), painterID)
	if err != nil {
		if errors.Is(err, service.ErrInsightsDisabled) {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Unavailable", Message: err.Error()})
			return
		}
		var rateLimited *insights.RateLimitError
		if errors.As(err, &rateLimited) {
			if secs := int(math.Ceil(rateLimited.RetryAfter.Seconds())); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "RateLimited", Message: rateLimited.Error()})
			return
		}
		if errors.Is(err, service.ErrInsightsFailed) {
			h.logger.Error("insights error", zap.Error(err), zap.Int64("painterID", painterID))
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "Upstream", Message: "AI processing failed"})
			return
		}
		h.writeError(w, "insights", err, zap.Int64("painterID", painterID))
		return
	}

	writeJSON(w, http.StatusOK, insightsResponse{UserID: painterID, Insights: res})
}
