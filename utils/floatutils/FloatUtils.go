// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r1"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// ClipInterval is a wrapper to use Clip with an r1.Interval instead of
// a separate max and min value
func ClipInterval(value float64, interval r1.Interval) float64 {
	return Clip(value, interval.Min, interval.Max)
}

// IsFinite returns whether a float is neither NaN nor infinite
func IsFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

// AllFinite returns whether every element of values is finite. An
// empty slice is not considered finite, since it cannot be used as an
// observation.
func AllFinite(values []float64) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}

// Argmax returns the index of the largest value in values. Ties are
// broken by returning the lowest index.
func Argmax(values []float64) int {
	return floats.MaxIdx(values)
}
