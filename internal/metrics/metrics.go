// Package metrics экспортирует метрики вызовов Bot API и обработки обновлений.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tgbot-facade/internal/telegram"
)

const namespace = "tgbot"

// Результаты обработки обновления.
const (
	UpdateHandled   = "handled"
	UpdateFailed    = "failed"
	UpdateDuplicate = "duplicate"
	UpdateRejected  = "rejected"
)

// Metrics реализует telegram.Observer и считает обработанные обновления.
type Metrics struct {
	callDuration *prometheus.HistogramVec
	callsTotal   *prometheus.CounterVec
	updatesTotal *prometheus.CounterVec
}

// New регистрирует метрики в registerer. nil означает регистрацию не выполнять.
func New(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		callDuration: promauto.With(registerer).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_call_duration_seconds",
			Help:      "Time (in seconds) spent on Bot API calls.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method"}),
		callsTotal: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_calls_total",
			Help:      "Total number of Bot API calls by method and outcome.",
		}, []string{"method", "outcome"}),
		updatesTotal: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Total number of received updates by source and result.",
		}, []string{"source", "result"}),
	}
}

// ObserveCall учитывает один вызов Bot API.
func (m *Metrics) ObserveCall(method string, elapsed time.Duration, err error) {
	m.callDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	m.callsTotal.WithLabelValues(method, Outcome(err)).Inc()
}

// ObserveUpdate учитывает одно обновление из source ("poll" или "webhook").
func (m *Metrics) ObserveUpdate(source, result string) {
	m.updatesTotal.WithLabelValues(source, result).Inc()
}

// Outcome переводит ошибку вызова в значение метки outcome.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if apiErr, ok := telegram.AsAPIError(err); ok {
		return apiErr.Kind.String()
	}
	var trErr *telegram.TransportError
	if errors.As(err, &trErr) {
		return "transport"
	}
	return "error"
}
