// Package util provides utility components for sparse matrix implementations.
// This file implements a histogram for row lengths. Buckets are powers of two,
// which matches how row tables grow, so a single histogram covers rows with one
// entry as well as rows with millions of entries.
package util

import (
	"math"
	"math/bits"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
}

// NewStats computes mean, standard deviation, minimum and maximum of values
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	min := values[0]
	max := values[0]

	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	return Stats{
		StdDeviation: math.Sqrt(sumSquaredDiffs / float64(len(values))),
		Min:          min,
		Max:          max,
		Mean:         mean,
	}
}

// ----------------------------------------------------------------------------
// LengthHistogram
// ----------------------------------------------------------------------------

// lengthBuckets is the number of power-of-two buckets (1, 2, 4, ... 2^31, larger)
const lengthBuckets = 33

// LengthHistogram tracks the distribution of row lengths
type LengthHistogram struct {
	mutex   sync.RWMutex
	buckets [lengthBuckets]int64 // bucket i counts lengths in (2^(i-1), 2^i]
	count   int64
	sum     int64
	max     int64
}

// NewLengthHistogram creates an empty histogram
func NewLengthHistogram() *LengthHistogram {
	return &LengthHistogram{}
}

// bucketFor returns the index of the smallest power of two >= length
func bucketFor(length int64) int {
	if length <= 1 {
		return 0
	}
	i := 64 - bits.LeadingZeros64(uint64(length-1))
	if i >= lengthBuckets {
		return lengthBuckets - 1
	}
	return i
}

// AddSample adds a row length
//
// Thread-safe: This method is safe for concurrent use
func (h *LengthHistogram) AddSample(length int64) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.buckets[bucketFor(length)]++
	h.count++
	h.sum += length
	if length > h.max {
		h.max = length
	}
}

// Count returns the number of samples
//
// Thread-safe: This method is safe for concurrent use
func (h *LengthHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// Max returns the largest sample
//
// Thread-safe: This method is safe for concurrent use
func (h *LengthHistogram) Max() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.max
}

// Average returns the mean of all samples
//
// Thread-safe: This method is safe for concurrent use
func (h *LengthHistogram) Average() float64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return float64(h.sum) / float64(h.count)
}

// PercentileEstimate returns the upper bound of the bucket holding the given percentile (0-100)
//
// Thread-safe: This method is safe for concurrent use
func (h *LengthHistogram) PercentileEstimate(percentile int) int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	if target == 0 {
		target = 1
	}

	var cumulative int64
	for i, c := range h.buckets {
		cumulative += c
		if cumulative >= target {
			if i == lengthBuckets-1 {
				return h.max
			}
			bound := int64(1) << i
			if bound > h.max {
				return h.max
			}
			return bound
		}
	}
	return h.max
}

// Distribution returns the bucket upper bounds and the percentage of samples per bucket.
// Empty trailing buckets are omitted.
//
// Thread-safe: This method is safe for concurrent use
func (h *LengthHistogram) Distribution() ([]int64, []float64) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	last := -1
	for i, c := range h.buckets {
		if c > 0 {
			last = i
		}
	}

	bounds := make([]int64, last+1)
	percentages := make([]float64, last+1)
	for i := 0; i <= last; i++ {
		bounds[i] = int64(1) << i
		if h.count > 0 {
			percentages[i] = float64(h.buckets[i]) * 100.0 / float64(h.count)
		}
	}
	return bounds, percentages
}
