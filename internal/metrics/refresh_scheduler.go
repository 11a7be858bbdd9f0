package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshDialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockinsight7000",
		Subsystem: "refresh_scheduler",
		Name:      "dials_total",
		Help:      "Count of peer connection attempts.",
	}, []string{"network", "status"})

	refreshSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockinsight7000",
		Subsystem: "refresh_scheduler",
		Name:      "syncs_total",
		Help:      "Count of synchronization passes.",
	}, []string{"network", "status"})

	refreshSyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockinsight7000",
		Subsystem: "refresh_scheduler",
		Name:      "sync_duration_seconds",
		Help:      "Duration of synchronization passes.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"network", "status"})

	refreshSyncedHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "blockinsight7000",
		Subsystem: "refresh_scheduler",
		Name:      "synced_height",
		Help:      "Height of the stored head after the last successful pass.",
	}, []string{"network"})
)

// RefreshScheduler tracks metrics for a network's refresh loop.
type RefreshScheduler struct {
	network string
}

// NewRefreshScheduler constructs a RefreshScheduler collector.
func NewRefreshScheduler(network string) *RefreshScheduler {
	return &RefreshScheduler{network: labelOrUnknown(network)}
}

// ObserveDial records a peer connection attempt.
func (m RefreshScheduler) ObserveDial(err error, _ time.Time) {
	refreshDialsTotal.WithLabelValues(m.network, statusOf(err)).Inc()
}

// ObserveSync records a synchronization pass and the height it reached.
func (m RefreshScheduler) ObserveSync(err error, height uint64, started time.Time) {
	status := statusOf(err)
	refreshSyncsTotal.WithLabelValues(m.network, status).Inc()
	refreshSyncDuration.WithLabelValues(m.network, status).Observe(time.Since(started).Seconds())
	if err == nil {
		refreshSyncedHeight.WithLabelValues(m.network).Set(float64(height))
	}
}
