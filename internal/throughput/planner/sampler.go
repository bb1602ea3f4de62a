package planner

import (
	"fmt"
	"math"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
)

// Ratios are read from decimal text, so 0.29*100 must count as 29 rather than 28.999999999999996.
const ratioEpsilon = 1e-9

// BucketCounts returns how many instances of each duration bucket to create for a class of count jobs.
// Every bucket gets floor(ratio*count) and the last bucket absorbs the remainder, so the counts always sum to count.
func BucketCounts(classId string, count int, buckets []configuration.DurationBucket) ([]int, error) {
	if count <= 0 {
		return nil, &benchmarkerrors.ErrInvalidDistribution{
			ClassId: classId,
			Message: fmt.Sprintf("count must be greater than zero, got %d", count),
		}
	}
	if len(buckets) == 0 {
		return nil, &benchmarkerrors.ErrInvalidDistribution{ClassId: classId, Message: "no durations given"}
	}

	total := 0.0
	for i, b := range buckets {
		if b.Minutes <= 0 {
			return nil, &benchmarkerrors.ErrInvalidDistribution{
				ClassId: classId,
				Message: fmt.Sprintf("durations[%d].minutes must be greater than zero, got %d", i, b.Minutes),
			}
		}
		if b.Ratio < 0 || math.IsNaN(b.Ratio) {
			return nil, &benchmarkerrors.ErrInvalidDistribution{
				ClassId: classId,
				Message: fmt.Sprintf("durations[%d].ratio must not be negative, got %v", i, b.Ratio),
			}
		}
		total += b.Ratio
	}
	if total > 1.0+ratioEpsilon {
		return nil, &benchmarkerrors.ErrInvalidDistribution{
			ClassId: classId,
			Message: fmt.Sprintf("ratios sum to %v which is more than 1", total),
		}
	}

	counts := make([]int, len(buckets))
	allocated := 0
	for i, b := range buckets {
		counts[i] = int(math.Floor(b.Ratio*float64(count) + ratioEpsilon))
		allocated += counts[i]
	}
	last := len(counts) - 1
	counts[last] += count - allocated
	// Only reachable when the ratios sum to a hair over 1.
	for i := last; i >= 0 && counts[i] < 0; i-- {
		if i > 0 {
			counts[i-1] += counts[i]
		}
		counts[i] = 0
	}
	return counts, nil
}

// SampleDurations expands a class's distribution into one duration per job, in bucket order.
func SampleDurations(classId string, count int, buckets []configuration.DurationBucket) ([]int, error) {
	counts, err := BucketCounts(classId, count, buckets)
	if err != nil {
		return nil, err
	}
	durations := make([]int, 0, count)
	for i, n := range counts {
		for j := 0; j < n; j++ {
			durations = append(durations, buckets[i].Minutes)
		}
	}
	return durations, nil
}
