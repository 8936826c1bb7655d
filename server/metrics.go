package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"OpenSampler/internal/sampling"
)

var (
	samplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opensampler_samples_total",
		Help: "Total number of tokens selected by session chains",
	}, []string{"mode"})

	sampleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opensampler_sample_errors_total",
		Help: "Total number of failed samples by error kind",
	}, []string{"kind"})

	sampleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opensampler_sample_duration_seconds",
		Help:    "Wall time of one chain sample",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	acceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opensampler_accepted_tokens_total",
		Help: "Total number of tokens fed back with ACCEPT",
	})

	openSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opensampler_open_sessions",
		Help: "Number of connected sampling sessions",
	})
)

// errorKind labels err for the error counter.
func errorKind(err error) string {
	var se *sampling.Error
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return "protocol"
}
