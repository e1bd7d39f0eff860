package util

import (
	"math"
	"sort"
	"sync/atomic"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	Count        int     `json:"count" yaml:"count"`
	StdDeviation float64 `json:"std_deviation" yaml:"std_deviation"`
	Min          float64 `json:"min" yaml:"min"`
	Max          float64 `json:"max" yaml:"max"`
	Mean         float64 `json:"mean" yaml:"mean"`
	Median       float64 `json:"median" yaml:"median"`
}

// NewStats computes count, mean, median, population standard deviation,
// minimum and maximum of the given values. The input slice is not modified.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sumSquaredDiffs float64
	for _, v := range sorted {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	// median of an even number of samples is the mean of the two middle samples
	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return Stats{
		Count:        len(sorted),
		StdDeviation: math.Sqrt(sumSquaredDiffs / float64(len(sorted))),
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         mean,
		Median:       median,
	}
}

// FillStats describes how full a set of fixed-capacity containers is
// (e.g. segment files bounded by a maximum size).
type FillStats struct {
	Stats
	// FillRatio is the total used size divided by the total capacity (0..1)
	FillRatio float64 `json:"fill_ratio" yaml:"fill_ratio"`
	// Reclaimable is the capacity that is allocated but unused
	Reclaimable float64 `json:"reclaimable" yaml:"reclaimable"`
}

// NewFillStats computes fill statistics for containers that each hold up to capacity units.
func NewFillStats(sizes []float64, capacity float64) FillStats {
	stats := NewStats(sizes)
	if stats.Count == 0 || capacity <= 0 {
		return FillStats{Stats: stats}
	}

	total := stats.Mean * float64(stats.Count)
	totalCapacity := capacity * float64(stats.Count)

	return FillStats{
		Stats:       stats,
		FillRatio:   math.Min(1.0, total/totalCapacity),
		Reclaimable: math.Max(0, totalCapacity-total),
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// histogramBoundaries are the upper bounds (inclusive) of the histogram buckets.
// They grow by a factor of four from 16 bytes to 4 GiB; one more bucket holds everything larger.
var histogramBoundaries = []int{
	16, 64, 256, 1024, 4096,
	16384, 65536, 262144, 1048576,
	4194304, 16777216, 67108864,
	268435456, 1073741824, 4294967296,
}

// SizeHistogram tracks the distribution of record sizes using exponential buckets.
// All counters are atomics, AddSample never blocks readers.
type SizeHistogram struct {
	buckets [16]atomic.Int64
	count   atomic.Int64
	sum     atomic.Int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// bucketFor returns the index of the bucket a size falls into
func bucketFor(size int) int {
	idx := sort.SearchInts(histogramBoundaries, size)
	return idx // == len(histogramBoundaries) for sizes above the last boundary
}

// AddSample adds a size sample to the histogram
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) AddSample(size int) {
	h.buckets[bucketFor(size)].Add(1)
	h.count.Add(1)
	h.sum.Add(int64(size))
}

// GetCount returns the total number of samples
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) GetCount() int64 {
	return h.count.Load()
}

// AverageSize returns the average size across all samples
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) AverageSize() int {
	count := h.count.Load()
	if count == 0 {
		return 0
	}
	return int(h.sum.Load() / count)
}

// PercentileEstimate returns an estimate for the given percentile (0-100).
// The estimate is the midpoint of the bucket that contains the percentile.
//
// Thread-safety: This method is safe for concurrent use, concurrent writes may
// or may not be reflected in the result
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	count := h.count.Load()
	if count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(count) * float64(percentile) / 100.0))
	if target == 0 {
		target = 1
	}

	var cumulative int64
	for i := range h.buckets {
		cumulative += h.buckets[i].Load()
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return histogramBoundaries[0] / 2
		case i < len(histogramBoundaries):
			return (histogramBoundaries[i-1] + histogramBoundaries[i]) / 2
		default:
			return histogramBoundaries[len(histogramBoundaries)-1] * 2
		}
	}

	// samples were added while iterating
	return h.AverageSize()
}

// MedianEstimate estimates the median size
//
// Thread-safety: This method is safe for concurrent use
func (h *SizeHistogram) MedianEstimate() int {
	return h.PercentileEstimate(50)
}

// Reset clears all histogram data
//
// Thread-safety: This method is safe for concurrent use, samples added
// concurrently with Reset may survive it
func (h *SizeHistogram) Reset() {
	for i := range h.buckets {
		h.buckets[i].Store(0)
	}
	h.count.Store(0)
	h.sum.Store(0)
}

// HistogramSummary is a serializable snapshot of a SizeHistogram
type HistogramSummary struct {
	Samples int64 `json:"samples" yaml:"samples"`
	Average int   `json:"average" yaml:"average"`
	Median  int   `json:"median" yaml:"median"`
	P99     int   `json:"p99" yaml:"p99"`
}

// Summary returns a snapshot of the most relevant estimates
func (h *SizeHistogram) Summary() HistogramSummary {
	return HistogramSummary{
		Samples: h.GetCount(),
		Average: h.AverageSize(),
		Median:  h.MedianEstimate(),
		P99:     h.PercentileEstimate(99),
	}
}
