package metrics

import "github.com/prometheus/client_golang/prometheus"

// PaymentMetrics counts gateway traffic handled by the payment adapter.
type PaymentMetrics struct {
	initiated        *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	invalidSignature *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	initiated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_initiated_total",
		Help: "Payment transactions created and sent to the gateway.",
	}, []string{"type"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Gateway callbacks handled, by source and acknowledgement code.",
	}, []string{"source", "code"})
	invalidSignature := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_signature_invalid_total",
		Help: "Gateway callbacks rejected for a bad signature.",
	}, []string{"source"})
	reg.MustRegister(initiated, callbacks, invalidSignature)
	return &PaymentMetrics{
		initiated:        initiated,
		callbacks:        callbacks,
		invalidSignature: invalidSignature,
	}
}

// IncInitiated counts one initiated payment of txnType.
func (p *PaymentMetrics) IncInitiated(txnType string) {
	if p == nil || p.initiated == nil {
		return
	}
	p.initiated.WithLabelValues(normalizeLabel(txnType)).Inc()
}

// IncCallback counts one callback answered with code.
func (p *PaymentMetrics) IncCallback(source, code string) {
	if p == nil || p.callbacks == nil {
		return
	}
	p.callbacks.WithLabelValues(normalizeLabel(source), normalizeLabel(code)).Inc()
}

// IncInvalidSignature counts one rejected callback.
func (p *PaymentMetrics) IncInvalidSignature(source string) {
	if p == nil || p.invalidSignature == nil {
		return
	}
	p.invalidSignature.WithLabelValues(normalizeLabel(source)).Inc()
}
