// Package metrics содержит Prometheus-метрики сервиса.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/painter-loyalty/internal/model"
)

const namespace = "painter_loyalty"

// ResultOK помечает успешные операции.
const ResultOK = "ok"

var (
	// Registry содержит коллекторы сервиса.
	Registry = prometheus.NewRegistry()

	consumptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serials",
			Name:      "consumptions_total",
			Help:      "Serial consumption attempts by result.",
		},
		[]string{"result"},
	)

	redemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "redemptions_total",
			Help:      "Commission redemption attempts by result.",
		},
		[]string{"result"},
	)

	accruedAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "accrued_amount_total",
			Help:      "Sum of accrued commission.",
		},
	)

	redeemedAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "redeemed_amount_total",
			Help:      "Sum of redeemed commission.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		consumptions,
		redemptions,
		accruedAmount,
		redeemedAmount,
		httpRequests,
		httpDuration,
	)
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err == nil {
		return ResultOK
	}
	return string(model.KindOf(err))
}

// ObserveConsumption учитывает попытку погашения серийного номера.
func ObserveConsumption(err error, commission decimal.Decimal) {
	consumptions.WithLabelValues(result(err)).Inc()
	if err == nil && commission.IsPositive() {
		accruedAmount.Add(commission.InexactFloat64())
	}
}

// ObserveRedemption учитывает попытку вывода комиссии.
func ObserveRedemption(err error, amount decimal.Decimal) {
	redemptions.WithLabelValues(result(err)).Inc()
	if err == nil && amount.IsPositive() {
		redeemedAmount.Add(amount.InexactFloat64())
	}
}

// ObserveHTTP учитывает обработанный HTTP-запрос.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
