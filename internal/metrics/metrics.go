package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "everex_cycles_total",
			Help: "Количество торговых циклов по символу и исходу.",
		},
		[]string{"symbol", "outcome"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "everex_orders_submitted_total",
			Help: "Количество размещенных рыночных ордеров.",
		},
		[]string{"symbol", "side"},
	)

	OscillatorValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "everex_rrof_smoothed",
			Help: "Последнее значение сглаженного осциллятора RROF_s.",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, OrdersSubmitted, OscillatorValue)
}
