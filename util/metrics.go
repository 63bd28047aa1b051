package util

import (
	"github.com/elijahnyp/led_controller/state"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ledState    *prometheus.GaugeVec
	ledValid    *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ledState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "led_state",
				Help: "Current LED state, 0 off and 1 on.",
			},
			[]string{"led"}),
		ledValid: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "led_state_valid",
				Help: "1 if the LED holds a valid state.",
			},
			[]string{"led"}),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "led_transitions_total",
				Help: "Transition attempts by transition and result (applied or rejected).",
			},
			[]string{"led", "transition", "result"}),
	}
	reg.MustRegister(m.ledState)
	reg.MustRegister(m.ledValid)
	reg.MustRegister(m.transitions)
	return m
}

func (m *Metrics) ObserveState(led string, s state.LEDState, valid bool) {
	m.ledState.WithLabelValues(led).Set(float64(s))
	if valid {
		m.ledValid.WithLabelValues(led).Set(1)
	} else {
		m.ledValid.WithLabelValues(led).Set(0)
	}
}

func (m *Metrics) ObserveTransition(led, transition string, applied bool) {
	result := "rejected"
	if applied {
		result = "applied"
	}
	m.transitions.WithLabelValues(led, transition, result).Inc()
}
