package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kernels_request_duration_seconds",
		Help:    "Time spent serving compute requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport", "op", "code"})

	admissionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kernels_admission_rejected_total",
		Help: "Requests rejected because the in-flight budget was exhausted",
	}, []string{"op"})

	inflightWeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kernels_inflight_weight",
		Help: "Output elements currently admitted for computation",
	})
)
