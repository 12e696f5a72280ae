package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/painter-loyalty/internal/metrics"
	custommiddleware "github.com/mmeshcher/painter-loyalty/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/verify", func(r chi.Router) {
		r.Get("/serial-numbers/{serialNumber}", h.LookupSerial)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.APIKey(h.apiKey))

			r.Post("/serial-numbers", h.CreateSerial)
			r.Get("/stock-summary", h.StockSummary)
			r.Post("/users", h.CreatePainter)
			r.Get("/users/summary", h.PaintersSummary)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/consume", h.Consume)

			r.Get("/commission/pending", h.PendingBalance)
			r.Get("/commission/summary", h.Summary)
			r.Post("/commission/redeem", h.Redeem)
			r.Get("/commission/accruals", h.Accruals)
			r.Get("/commission/redemptions", h.Redemptions)

			r.Post("/ai/insights", h.Insights)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
