package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitrise-io/go-videorelay/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.UploadStarted()
	m.ObservePhase(relay.PhaseStart, 20*time.Millisecond, nil)
	m.ObservePhase(relay.PhaseTransfer, time.Second, &relay.SinkRejectedError{StatusCode: 500})
	m.ObservePhase(relay.PhaseTransfer, time.Second, nil)
	m.RecordChunkBytes(1024)
	m.RecordChunkBytes(512)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeUploads))
	assert.Equal(t, float64(1536), testutil.ToFloat64(m.bytesSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.phaseRequests.WithLabelValues("transfer", "rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.phaseRequests.WithLabelValues("transfer", "success")))

	m.UploadCompleted("finished")

	assert.Equal(t, float64(0), testutil.ToFloat64(m.activeUploads))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.uploads.WithLabelValues("finished")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestPrometheus_SatisfiesRelayMetrics(t *testing.T) {
	var _ relay.Metrics = New(prometheus.NewRegistry())
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "success", err: nil, want: "success"},
		{name: "rejected", err: &relay.SinkRejectedError{StatusCode: 400}, want: "rejected"},
		{name: "transient source", err: &relay.SourceError{Kind: relay.SourceTransient}, want: "transient"},
		{name: "cancelled", err: context.Canceled, want: "error"},
		{name: "other", err: errors.New("boom"), want: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status(tt.err))
		})
	}
}
