package planner

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
)

func TestSampleDurations(t *testing.T) {
	tests := map[string]struct {
		count   int
		buckets []configuration.DurationBucket
		want    []int
	}{
		"exact split": {
			count:   10,
			buckets: []configuration.DurationBucket{{Minutes: 30, Ratio: 0.3}, {Minutes: 60, Ratio: 0.5}, {Minutes: 120, Ratio: 0.2}},
			want:    []int{30, 30, 30, 60, 60, 60, 60, 60, 120, 120},
		},
		"remainder goes to last bucket": {
			count:   4,
			buckets: []configuration.DurationBucket{{Minutes: 10, Ratio: 0.33}, {Minutes: 20, Ratio: 0.33}, {Minutes: 40, Ratio: 0.34}},
			want:    []int{10, 20, 40, 40},
		},
		"ratios below one": {
			count:   5,
			buckets: []configuration.DurationBucket{{Minutes: 15, Ratio: 0.2}, {Minutes: 45, Ratio: 0.2}},
			want:    []int{15, 45, 45, 45, 45},
		},
		"floating point ratio": {
			count:   100,
			buckets: []configuration.DurationBucket{{Minutes: 5, Ratio: 0.29}, {Minutes: 6, Ratio: 0.71}},
		},
		"zero ratio bucket": {
			count:   3,
			buckets: []configuration.DurationBucket{{Minutes: 5, Ratio: 0}, {Minutes: 6, Ratio: 1}},
			want:    []int{6, 6, 6},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := SampleDurations("jobs[0]", tc.count, tc.buckets)
			require.NoError(t, err)
			assert.Len(t, got, tc.count)
			if tc.want != nil {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestBucketCounts_FloatingPoint(t *testing.T) {
	counts, err := BucketCounts("jobs[0]", 100, []configuration.DurationBucket{{Minutes: 5, Ratio: 0.29}, {Minutes: 6, Ratio: 0.71}})
	require.NoError(t, err)
	assert.Equal(t, []int{29, 71}, counts)
}

func TestSampleDurations_InvalidDistribution(t *testing.T) {
	tests := map[string]struct {
		count   int
		buckets []configuration.DurationBucket
	}{
		"negative ratio":    {10, []configuration.DurationBucket{{Minutes: 30, Ratio: -0.1}, {Minutes: 60, Ratio: 0.5}}},
		"ratios exceed one": {10, []configuration.DurationBucket{{Minutes: 30, Ratio: 0.6}, {Minutes: 60, Ratio: 0.5}}},
		"zero count":        {0, []configuration.DurationBucket{{Minutes: 30, Ratio: 1}}},
		"negative count":    {-3, []configuration.DurationBucket{{Minutes: 30, Ratio: 1}}},
		"no durations":      {3, nil},
		"zero minutes":      {3, []configuration.DurationBucket{{Minutes: 0, Ratio: 1}}},
		"nan ratio":         {3, []configuration.DurationBucket{{Minutes: 30, Ratio: math.NaN()}}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := SampleDurations("jobs[2]", tc.count, tc.buckets)
			var e *benchmarkerrors.ErrInvalidDistribution
			require.True(t, errors.As(err, &e), "got %v", err)
			assert.Equal(t, "jobs[2]", e.ClassId)
		})
	}
}

func TestBucketCounts_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 500).Draw(t, "count")
		weights := rapid.SliceOfN(rapid.IntRange(0, 100), 1, 6).Draw(t, "weights")
		denominator := rapid.IntRange(100, 400).Draw(t, "denominator")
		sum := 0
		for _, w := range weights {
			sum += w
		}
		if sum > denominator {
			denominator = sum
		}
		buckets := make([]configuration.DurationBucket, len(weights))
		for i, w := range weights {
			buckets[i] = configuration.DurationBucket{Minutes: 10 * (i + 1), Ratio: float64(w) / float64(denominator)}
		}

		counts, err := BucketCounts("jobs[0]", count, buckets)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		total := 0
		for i, n := range counts {
			total += n
			if n < 0 {
				t.Fatalf("bucket %d has negative count %d", i, n)
			}
			floor := int(math.Floor(buckets[i].Ratio*float64(count) + ratioEpsilon))
			if i < len(counts)-1 && n != floor {
				t.Fatalf("bucket %d has %d jobs, expected floor %d", i, n, floor)
			}
			if i == len(counts)-1 && n < floor {
				t.Fatalf("last bucket has %d jobs, fewer than its floor %d", n, floor)
			}
		}
		if total != count {
			t.Fatalf("sampled %d jobs, expected %d", total, count)
		}
	})
}
