package seglog

import (
	"github.com/VictoriaMetrics/metrics"
)

// logMetrics holds the metrics of one log. Every log registers its own set, so
// several logs in one process do not collide.
type logMetrics struct {
	set *metrics.Set

	appends            *metrics.Counter
	appendErrors       *metrics.Counter
	rollovers          *metrics.Counter
	compactions        *metrics.Counter
	compactionsSkipped *metrics.Counter
	compactionFailures *metrics.Counter
	reclaimedBytes     *metrics.Counter
	compactionDuration *metrics.Histogram
}

// newLogMetrics creates the metric set of l. The gauges read the current segment list.
func newLogMetrics[V any](l *logImpl[V]) *logMetrics {
	set := metrics.NewSet()

	set.NewGauge("seglog_segments", func() float64 {
		return float64(l.segmentCount())
	})
	set.NewGauge("seglog_size_bytes", func() float64 {
		return float64(l.sizeBytes())
	})

	return &logMetrics{
		set:                set,
		appends:            set.NewCounter("seglog_appends_total"),
		appendErrors:       set.NewCounter("seglog_append_errors_total"),
		rollovers:          set.NewCounter("seglog_rollovers_total"),
		compactions:        set.NewCounter("seglog_compactions_total"),
		compactionsSkipped: set.NewCounter("seglog_compactions_skipped_total"),
		compactionFailures: set.NewCounter("seglog_compaction_failures_total"),
		reclaimedBytes:     set.NewCounter("seglog_reclaimed_bytes_total"),
		compactionDuration: set.NewHistogram("seglog_compaction_duration_seconds"),
	}
}
