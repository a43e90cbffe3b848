// Package metrics exposes lifecycle counters for managed resources.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Operations counts lifecycle operations by resource kind, operation and result.
var Operations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "testbed",
		Name:      "resource_operations_total",
		Help:      "Lifecycle operations performed on managed resources.",
	},
	[]string{"kind", "operation", "result"},
)

// Register adds the collectors to reg. Registering twice is not an error.
func Register(reg prometheus.Registerer) error {
	if err := reg.Register(Operations); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Observe records one operation outcome.
func Observe(kind, operation, result string) {
	Operations.WithLabelValues(kind, operation, result).Inc()
}
