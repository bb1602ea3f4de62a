package metrics

import (
	"math"
	"time"
)

// Statistics summarises a set of durations, in seconds.
type Statistics struct {
	Count             int     `json:"count" yaml:"count"`
	Min               float64 `json:"min" yaml:"min"`
	Max               float64 `json:"max" yaml:"max"`
	Average           float64 `json:"average" yaml:"average"`
	Variance          float64 `json:"variance" yaml:"variance"`
	StandardDeviation float64 `json:"standardDeviation" yaml:"standardDeviation"`
}

func statistics(durations []time.Duration) *Statistics {
	if len(durations) == 0 {
		return nil
	}
	seconds := make([]float64, len(durations))
	for i, d := range durations {
		seconds[i] = d.Seconds()
	}
	variance := varianceOf(seconds)
	return &Statistics{
		Count:             len(seconds),
		Min:               minOf(seconds),
		Max:               maxOf(seconds),
		Average:           avgOf(seconds),
		Variance:          variance,
		StandardDeviation: math.Sqrt(variance),
	}
}

func minOf(input []float64) float64 {
	var m float64
	for i, e := range input {
		if i == 0 || e < m {
			m = e
		}
	}
	return m
}

func maxOf(input []float64) float64 {
	var m float64
	for i, e := range input {
		if i == 0 || e > m {
			m = e
		}
	}
	return m
}

func avgOf(input []float64) float64 {
	if len(input) == 0 {
		return 0
	}
	var sum float64
	for _, e := range input {
		sum += e
	}
	return sum / float64(len(input))
}

// sample variance
func varianceOf(input []float64) float64 {
	if len(input) < 2 {
		return 0
	}
	avg := avgOf(input)
	var total float64
	for _, e := range input {
		total += math.Pow(e-avg, 2)
	}
	return total / float64(len(input)-1)
}
