// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"strings"
	"time"
)

// Clamp limits x to the closed interval [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// MillisToDuration converts an integer number of milliseconds to a time.Duration.
// Negative values are treated as zero.
func MillisToDuration(ms int) time.Duration {
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// FloatSliceToCSV converts a slice of floats to CSV formatted data.
// e.g., []float64{1,2.5} => "1,2.5"
func FloatSliceToCSV(fs []float64) string {
	s := make([]string, len(fs))
	for i, v := range fs {
		s[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}

	return strings.Join(s, ",")
}
