package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockinsight7000",
		Subsystem: "chain_state_cache",
		Name:      "updates_total",
		Help:      "Count of incremental chain state updates that found a new head.",
	}, []string{"network", "status"})

	cacheUpdateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockinsight7000",
		Subsystem: "chain_state_cache",
		Name:      "update_duration_seconds",
		Help:      "Duration of walking and verifying new blocks.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network", "status"})

	cacheUpdateBlocks = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockinsight7000",
		Subsystem: "chain_state_cache",
		Name:      "update_blocks",
		Help:      "Number of blocks applied per update.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"network"})

	cacheRebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockinsight7000",
		Subsystem: "chain_state_cache",
		Name:      "rebuilds_total",
		Help:      "Count of full chain state restorations.",
	}, []string{"network", "status"})

	cacheRebuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockinsight7000",
		Subsystem: "chain_state_cache",
		Name:      "rebuild_duration_seconds",
		Help:      "Duration of full chain state restorations.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"network", "status"})

	cacheSnapshotHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "blockinsight7000",
		Subsystem: "chain_state_cache",
		Name:      "snapshot_height",
		Help:      "Height of the published chain state snapshot.",
	}, []string{"network"})
)

// ChainStateCache tracks metrics for a network's chain state cache.
type ChainStateCache struct {
	network string
}

// NewChainStateCache constructs a ChainStateCache collector.
func NewChainStateCache(network string) *ChainStateCache {
	return &ChainStateCache{network: labelOrUnknown(network)}
}

// ObserveUpdate records an incremental update outcome.
func (m ChainStateCache) ObserveUpdate(err error, blocks int, started time.Time) {
	status := statusOf(err)
	cacheUpdatesTotal.WithLabelValues(m.network, status).Inc()
	cacheUpdateDuration.WithLabelValues(m.network, status).Observe(time.Since(started).Seconds())
	if err == nil {
		cacheUpdateBlocks.WithLabelValues(m.network).Observe(float64(blocks))
	}
}

// ObserveRebuild records a full restoration outcome.
func (m ChainStateCache) ObserveRebuild(err error, started time.Time) {
	status := statusOf(err)
	cacheRebuildsTotal.WithLabelValues(m.network, status).Inc()
	cacheRebuildDuration.WithLabelValues(m.network, status).Observe(time.Since(started).Seconds())
}

// SetSnapshotHeight records the height of the published snapshot.
func (m ChainStateCache) SetSnapshotHeight(height uint64) {
	cacheSnapshotHeight.WithLabelValues(m.network).Set(float64(height))
}
