package syscalls

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the syscall layer's prometheus collectors.
type Metrics struct {
	Calls  *prometheus.CounterVec
	Errors *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stride_syscall_total",
			Help: "Number of syscalls issued, by name.",
		}, []string{"name"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stride_syscall_errors_total",
			Help: "Number of syscalls that returned a negative result, by name.",
		}, []string{"name"}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Errors)
	}
	return m
}
