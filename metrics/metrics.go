// Package metrics is the Prometheus implementation of relay.Metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/bitrise-io/go-videorelay/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "videorelay"

// Prometheus records upload telemetry into a registry.
type Prometheus struct {
	phaseRequests *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	chunkBytes    prometheus.Histogram
	bytesSent     prometheus.Counter
	activeUploads prometheus.Gauge
	uploads       *prometheus.CounterVec
}

// New registers the upload collectors on reg.
func New(reg prometheus.Registerer) *Prometheus {
	return &Prometheus{
		phaseRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_requests_total",
				Help:      "Remote calls of the upload protocol by phase and status",
			},
			[]string{"phase", "status"},
		),
		phaseDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of remote calls of the upload protocol",
				Buckets: []float64{
					0.1, // metadata and start calls
					0.5,
					1,
					5,  // small chunks
					15, // full chunks
					30,
					60,
					120, // slow links
				},
			},
			[]string{"phase"},
		),
		chunkBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chunk_bytes",
				Help:      "Distribution of accepted chunk sizes",
				Buckets: []float64{
					65536,     // 64KB
					1048576,   // 1MB
					5242880,   // 5MB
					10485760,  // 10MB
					52428800,  // 50MB
					104857600, // 100MB
				},
			},
		),
		bytesSent: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_sent_total",
				Help:      "Total bytes accepted by the sink",
			},
		),
		activeUploads: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_uploads",
				Help:      "Uploads currently in progress",
			},
		),
		uploads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Completed uploads by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObservePhase ...
func (p *Prometheus) ObservePhase(phase relay.Phase, duration time.Duration, err error) {
	p.phaseRequests.WithLabelValues(string(phase), status(err)).Inc()
	p.phaseDuration.WithLabelValues(string(phase)).Observe(duration.Seconds())
}

// RecordChunkBytes ...
func (p *Prometheus) RecordChunkBytes(bytes int64) {
	p.chunkBytes.Observe(float64(bytes))
	p.bytesSent.Add(float64(bytes))
}

// UploadStarted ...
func (p *Prometheus) UploadStarted() {
	p.activeUploads.Inc()
}

// UploadCompleted ...
func (p *Prometheus) UploadCompleted(outcome string) {
	p.activeUploads.Dec()
	p.uploads.WithLabelValues(outcome).Inc()
}

func status(err error) string {
	if err == nil {
		return "success"
	}

	var rejected *relay.SinkRejectedError
	if errors.As(err, &rejected) {
		return "rejected"
	}
	if relay.IsTransient(err) {
		return "transient"
	}
	return "error"
}
