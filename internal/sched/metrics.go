// internal/sched/metrics.go

package sched

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the scheduler's prometheus collectors.
type Metrics struct {
	Dispatches prometheus.Counter
	Switches   *prometheus.CounterVec // by reason: yield, preempt, exit
	ReadyTasks prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stride_dispatch_total",
			Help: "Number of times a task was dispatched.",
		}),
		Switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stride_switch_total",
			Help: "Number of times a running task gave up the CPU, by reason.",
		}, []string{"reason"}),
		ReadyTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stride_ready_tasks",
			Help: "Number of tasks in the ready queue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Dispatches, m.Switches, m.ReadyTasks)
	}
	return m
}
