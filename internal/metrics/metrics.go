package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shop"

// Metrics holds the collectors shared by the order/payment services.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	PaymentsCreated    *prometheus.CounterVec   // {method,outcome}
	PaymentTransitions *prometheus.CounterVec   // {from,to,outcome}
	StockOperations    *prometheus.CounterVec   // {op,outcome}
	PromoRedemptions   *prometheus.CounterVec   // {outcome}
	UsecaseDuration    *prometheus.HistogramVec // {use_case}
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PaymentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payments_created_total",
			Help: "Payment creation attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		PaymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payment_transitions_total",
			Help: "Payment status transitions.",
		}, []string{"from", "to", "outcome"}),
		StockOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_operations_total",
			Help: "Inventory ledger operations.",
		}, []string{"op", "outcome"}),
		PromoRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "promo_redemptions_total",
			Help: "Promotion code usage increments and restores.",
		}, []string{"outcome"}),
		UsecaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "usecase_duration_seconds",
			Help:    "Latency of order and payment use cases.",
			Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
	}
	if reg != nil {
		reg.MustRegister(m.PaymentsCreated, m.PaymentTransitions, m.StockOperations, m.PromoRedemptions, m.UsecaseDuration)
	}
	return m
}

func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) PaymentCreated(method string, err error) {
	if m == nil {
		return
	}
	m.PaymentsCreated.WithLabelValues(method, Outcome(err)).Inc()
}

func (m *Metrics) Transition(from, to string, err error) {
	if m == nil {
		return
	}
	m.PaymentTransitions.WithLabelValues(from, to, Outcome(err)).Inc()
}

func (m *Metrics) Stock(op string, err error) {
	if m == nil {
		return
	}
	m.StockOperations.WithLabelValues(op, Outcome(err)).Inc()
}

func (m *Metrics) Promo(outcome string) {
	if m == nil {
		return
	}
	m.PromoRedemptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Observe(useCase string, seconds float64) {
	if m == nil {
		return
	}
	m.UsecaseDuration.WithLabelValues(useCase).Observe(seconds)
}
