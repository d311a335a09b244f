package nbpoll

import (
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	// all metrics fields must be exported
	// to be able to return them by Metrics()
	// using reflection
	WatchdogSweeps prometheus.Counter
	WatchdogCloses prometheus.Counter
	DeferredCalls  prometheus.Counter
	Attached       prometheus.Gauge
}

func newMetrics() metrics {
	return metrics{
		WatchdogSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nbpoll_watchdog_sweeps_total",
			Help: "Number of watchdog sweeps over attached pollables.",
		}),
		WatchdogCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nbpoll_watchdog_closes_total",
			Help: "Number of pollables closed by the watchdog for being past their deadline.",
		}),
		DeferredCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nbpoll_deferred_calls_total",
			Help: "Number of scheduled calls that fired.",
		}),
		Attached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nbpoll_attached_pollables",
			Help: "Number of pollables currently attached to a descriptor.",
		}),
	}
}

// Metrics returns the reactor collectors for registration by the caller.
func (r *Reactor) Metrics() (cs []prometheus.Collector) {
	v := reflect.Indirect(reflect.ValueOf(r.metrics))
	for i := 0; i < v.NumField(); i++ {
		if !v.Field(i).CanInterface() {
			continue
		}
		if u, ok := v.Field(i).Interface().(prometheus.Collector); ok {
			cs = append(cs, u)
		}
	}
	return cs
}
