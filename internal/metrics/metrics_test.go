package metrics_test

import (
	"errors"
	"testing"

	"github.com/ignatij/dealflow/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOp(t *testing.T) {
	r := metrics.New()
	r.ObserveOp("reorder", nil)
	r.ObserveOp("reorder", nil)
	r.ObserveOp("reorder", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.SequencerOps.WithLabelValues("reorder", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SequencerOps.WithLabelValues("reorder", "error")))

	var nilRecorder *metrics.Recorder
	assert.NotPanics(t, func() { nilRecorder.ObserveOp("reorder", nil) })
}
