package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegisterEventBus exports the bus drop counter. dropped is read at scrape
// time.
func RegisterEventBus(reg prometheus.Registerer, dropped func() uint64) {
	if reg == nil || dropped == nil {
		return
	}
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_dropped_total",
		Help:      "Signals dropped because a bus subscriber was full.",
	}, func() float64 { return float64(dropped()) }))
}
