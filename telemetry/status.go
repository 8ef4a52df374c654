// Package telemetry implements get_status() and a Prometheus collector
// exposing the same counters, grounded on the Collector shape used by
// go-tcpinfo's pkg/exporter: Describe/Collect backed by a mutex-guarded
// snapshot rather than one gauge per metric mutated ad hoc.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kc0wav/meshttp/modem"
)

// Status is the get_status() response shape.
type Status struct {
	Modulation    modem.Modulation
	SNR           float64
	PendingRoutes int
	PendingAcks   int
	FramesDropped uint64
}

// Snapshot supplies a fresh Status on demand; the transport scheduler
// implements this by reading its own task-owned state.
type Snapshot interface {
	Status() Status
}

// Collector exports Status as Prometheus metrics under the
// "meshttp_" prefix.
type Collector struct {
	mu       sync.Mutex
	snapshot Snapshot

	modulation    *prometheus.Desc
	snr           *prometheus.Desc
	pendingRoutes *prometheus.Desc
	pendingAcks   *prometheus.Desc
	framesDropped *prometheus.Desc
}

// NewCollector builds a Collector pulling from snapshot, with
// constLabels attached to every exported metric (e.g. the node's own
// callsign).
func NewCollector(snapshot Snapshot, constLabels prometheus.Labels) *Collector {
	return &Collector{
		snapshot: snapshot,
		modulation: prometheus.NewDesc("meshttp_modulation",
			"Current modem modulation, as an ordinal (0=BPSK,1=QPSK,2=8PSK,3=16QAM).",
			nil, constLabels),
		snr: prometheus.NewDesc("meshttp_snr_db",
			"Current smoothed SNR estimate in dB.",
			nil, constLabels),
		pendingRoutes: prometheus.NewDesc("meshttp_pending_routes",
			"Number of in-flight route discoveries.",
			nil, constLabels),
		pendingAcks: prometheus.NewDesc("meshttp_pending_acks",
			"Number of fragments awaiting acknowledgement.",
			nil, constLabels),
		framesDropped: prometheus.NewDesc("meshttp_frames_dropped_total",
			"Total modem frames dropped to sync loss or unrecoverable FEC.",
			nil, constLabels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.modulation
	ch <- c.snr
	ch <- c.pendingRoutes
	ch <- c.pendingAcks
	ch <- c.framesDropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snapshot.Status()

	ch <- prometheus.MustNewConstMetric(c.modulation, prometheus.GaugeValue, float64(s.Modulation))
	ch <- prometheus.MustNewConstMetric(c.snr, prometheus.GaugeValue, s.SNR)
	ch <- prometheus.MustNewConstMetric(c.pendingRoutes, prometheus.GaugeValue, float64(s.PendingRoutes))
	ch <- prometheus.MustNewConstMetric(c.pendingAcks, prometheus.GaugeValue, float64(s.PendingAcks))
	ch <- prometheus.MustNewConstMetric(c.framesDropped, prometheus.CounterValue, float64(s.FramesDropped))
}
