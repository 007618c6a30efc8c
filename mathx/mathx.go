// Package mathx provides rounding helpers that match the half-up rounding used
// by browser canvas code, which differs from math.Round for negative halves.
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
// Halves round toward positive infinity, so Round(-2.5, 1) == -2.
func Round(x, unit float64) float64 {
	return math.Floor(x/unit+0.5) * unit
}

// RoundInt rounds x half-up to the nearest integer
func RoundInt(x float64) int {
	return int(math.Floor(x + 0.5))
}
