package telemetry

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kc0wav/meshttp/modem"
)

type fixedSnapshot struct{ status Status }

func (f *fixedSnapshot) Status() Status { return f.status }

func TestCollectorExportsAllMetrics(t *testing.T) {
	snap := &fixedSnapshot{status: Status{
		Modulation:    modem.QPSK,
		SNR:           12.5,
		PendingRoutes: 2,
		PendingAcks:   3,
		FramesDropped: 7,
	}}
	c := NewCollector(snap, prometheus.Labels{"callsign": "N0CALL"})

	assert.Equal(t, 5, testutil.CollectAndCount(c))
}

func TestCollectorReflectsSnapshotChanges(t *testing.T) {
	snap := &fixedSnapshot{status: Status{FramesDropped: 1}}
	c := NewCollector(snap, nil)

	snap.status.FramesDropped = 42
	ch := make(chan prometheus.Metric, 5)
	c.Collect(ch)
	close(ch)

	var found bool
	for m := range ch {
		if m.Desc() != c.framesDropped {
			continue
		}
		found = true
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		assert.Equal(t, float64(42), pb.GetCounter().GetValue())
	}
	assert.True(t, found)
}
