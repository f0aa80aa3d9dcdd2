package device

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/23skdu/longbow-kernels/internal/shape"
)

var (
	kernelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernels_calls_total",
		Help: "Total number of kernel invocations",
	}, []string{"kernel"})

	kernelErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernels_errors_total",
		Help: "Total number of kernel invocations rejected by shape validation",
	}, []string{"kernel", "kind"})

	kernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kernels_duration_seconds",
		Help:    "Time spent inside a kernel",
		Buckets: []float64{0.00001, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
	}, []string{"kernel"})

	kernelOutputElements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernels_output_elements_total",
		Help: "Total number of output elements produced",
	}, []string{"kernel"})
)

func observe(kernel string, start time.Time, out int, err error) {
	kernelCalls.WithLabelValues(kernel).Inc()
	if err != nil {
		kernelErrors.WithLabelValues(kernel, shape.Kind(err)).Inc()
		return
	}
	kernelDuration.WithLabelValues(kernel).Observe(time.Since(start).Seconds())
	kernelOutputElements.WithLabelValues(kernel).Add(float64(out))
}
